// Package capability turns model tool calls into local side effects.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
)

// ErrUnknownCapability is reported for tool calls with no registered handler.
var ErrUnknownCapability = errors.New("unknown capability")

// Invocation is the context a capability runs with.
type Invocation struct {
	ConversationID string
	// Ref is the message that triggered the call. MessageID is empty for
	// invocations that did not originate from an inbound message.
	Ref transport.MessageRef
	// Media is the attachment of the triggering message, if any.
	Media      *transport.Media
	Args       map[string]any
	History    []model.Message
	ReceivedAt time.Time
}

// Outcome is what a capability produced.
type Outcome struct {
	// Reply is sent to the conversation right away when not empty.
	Reply string
	// Summary replaces the default trace entry when not empty.
	Summary string
}

// Capability is one function the model may call.
type Capability interface {
	Name() string
	Declaration() llm.ToolDefinition
	Invoke(ctx context.Context, inv Invocation) (Outcome, error)
}

// Registry is the set of capabilities registered at startup.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates a registry holding caps.
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{caps: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds c. Names must be unique.
func (r *Registry) Register(c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if name == "" {
		return errors.New("capability name is required")
	}
	if _, dup := r.caps[name]; dup {
		return fmt.Errorf("capability %q already registered", name)
	}
	r.caps[name] = c
	return nil
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Names returns the registered names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns the tool definitions of every capability, sorted by name.
func (r *Registry) Declarations() []llm.ToolDefinition {
	names := r.Names()
	decls := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		c, _ := r.Lookup(name)
		decls = append(decls, c.Declaration())
	}
	return decls
}
