package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
)

// BotInfo describes the assistant and the chat it was asked in.
type BotInfo struct {
	name      string
	version   string
	registry  *Registry
	messenger transport.Messenger
}

// NewBotInfo creates the get_bot_info capability. registry is counted at call
// time, so BotInfo may be registered into it.
func NewBotInfo(name, version string, registry *Registry, messenger transport.Messenger) *BotInfo {
	return &BotInfo{name: name, version: version, registry: registry, messenger: messenger}
}

func (c *BotInfo) Name() string { return "get_bot_info" }

func (c *BotInfo) Declaration() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name(),
		Description: "Show the assistant's name and version, the user's number and the chat type.",
		Parameters:  objectSchema(nil, map[string]any{}),
	}
}

func (c *BotInfo) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", c.name)
	fmt.Fprintf(&b, "Version: %s\n", c.version)
	if c.registry != nil {
		fmt.Fprintf(&b, "Capabilities: %d\n", len(c.registry.Names()))
	}
	if sender := userPart(inv.Ref.SenderID); sender != "" {
		fmt.Fprintf(&b, "\nYour number: %s\n", sender)
	}

	chatType := "private"
	if inv.Ref.IsGroup {
		chatType = "group"
	}
	fmt.Fprintf(&b, "Chat type: %s", chatType)
	if inv.Ref.IsGroup {
		if members, err := c.messenger.GroupParticipants(ctx, inv.ConversationID); err == nil {
			fmt.Fprintf(&b, "\nMembers: %d", len(members))
		}
	}

	return Outcome{Reply: b.String(), Summary: "[Shared bot info]"}, nil
}
