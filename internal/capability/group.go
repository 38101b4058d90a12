package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
)

// TagEveryone mentions every member of the current group.
type TagEveryone struct {
	messenger transport.Messenger
}

// NewTagEveryone creates the tag_everyone capability.
func NewTagEveryone(messenger transport.Messenger) *TagEveryone {
	return &TagEveryone{messenger: messenger}
}

func (c *TagEveryone) Name() string { return "tag_everyone" }

func (c *TagEveryone) Declaration() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name(),
		Description: "Mention every member of the current group chat. Only works in groups.",
		Parameters: objectSchema(nil, map[string]any{
			"message": stringProp("Optional short line to send above the mentions."),
		}),
	}
}

func (c *TagEveryone) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	if !inv.Ref.IsGroup {
		return Outcome{}, fmt.Errorf("tag everyone: %w", transport.ErrNotGroup)
	}

	members, err := c.messenger.GroupParticipants(ctx, inv.ConversationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list group members: %w", err)
	}
	if len(members) == 0 {
		return Outcome{}, errors.New("group has no members")
	}

	tags := make([]string, len(members))
	for i, id := range members {
		tags[i] = "@" + userPart(id)
	}
	text := strings.Join(tags, " ")
	if line := stringArg(inv.Args, "message", "text"); line != "" {
		text = line + "\n\n" + text
	}

	if err := c.messenger.Send(ctx, inv.ConversationID, text, members); err != nil {
		return Outcome{}, fmt.Errorf("failed to send mentions: %w", err)
	}
	return Outcome{Summary: fmt.Sprintf("[Tagged %d members]", len(members))}, nil
}

// userPart strips the server and device suffixes from a user id.
func userPart(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[:i]
	}
	return id
}
