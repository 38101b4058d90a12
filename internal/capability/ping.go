package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
)

// Ping reports how long the assistant took to reach the call.
type Ping struct {
	now func() time.Time
}

// NewPing creates the check_ping capability.
func NewPing() *Ping {
	return &Ping{now: time.Now}
}

func (c *Ping) Name() string { return "check_ping" }

func (c *Ping) Declaration() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name(),
		Description: "Check whether the assistant is alive and how fast it responds.",
		Parameters:  objectSchema(nil, map[string]any{}),
	}
}

func (c *Ping) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	latency := c.now().Sub(inv.ReceivedAt)
	if inv.ReceivedAt.IsZero() || latency < 0 {
		latency = 0
	}
	return Outcome{Reply: fmt.Sprintf("Pong! %dms", latency.Milliseconds())}, nil
}
