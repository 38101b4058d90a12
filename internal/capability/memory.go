package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/internal/store"
)

// MemoryAppender appends lines to a conversation's permanent memory.
type MemoryAppender interface {
	AppendMemory(ctx context.Context, conversationID, line string) *store.Write
}

// UpdateMemory stores a long-lived fact about the conversation.
type UpdateMemory struct {
	memory MemoryAppender
	now    func() time.Time
}

// NewUpdateMemory creates the update_memory capability.
func NewUpdateMemory(memory MemoryAppender) *UpdateMemory {
	return &UpdateMemory{memory: memory, now: time.Now}
}

func (c *UpdateMemory) Name() string { return "update_memory" }

func (c *UpdateMemory) Declaration() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name(),
		Description: "Save an important, long-lived fact about the user or group to permanent memory.",
		Parameters: objectSchema([]string{"fact"}, map[string]any{
			"fact": stringProp("The fact to remember, written as a short sentence."),
		}),
	}
}

func (c *UpdateMemory) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	fact := stringArg(inv.Args, "fact", "memory", "text")
	if fact == "" {
		return Outcome{}, errors.New("fact is required")
	}

	line := fmt.Sprintf("- [%s] %s", c.now().Format("2006-01-02 15:04"), fact)
	if err := c.memory.AppendMemory(ctx, inv.ConversationID, line).Wait(); err != nil {
		return Outcome{}, fmt.Errorf("failed to save memory: %w", err)
	}

	return Outcome{
		Reply:   "Noted, I'll remember that.",
		Summary: fmt.Sprintf("[Memory updated: %s]", fact),
	}, nil
}
