package assistant

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
)

const (
	headerTimeLayout = "15:04:05, 02/01/2006"
	quoteLimit       = 100
)

// userPart returns the account part of a transport id ("628123@s.whatsapp.net" -> "628123").
func userPart(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[:i]
	}
	return id
}

func sameUser(a, b string) bool {
	return a != "" && b != "" && userPart(a) == userPart(b)
}

func mentions(ev transport.Event, self string) bool {
	for _, id := range ev.MentionedIDs {
		if sameUser(id, self) {
			return true
		}
	}
	return false
}

// IdentityHeader formats who said something and when, in front of a user message.
func IdentityHeader(ev transport.Event, at time.Time) string {
	name := strings.TrimSpace(ev.SenderName)
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("[%s] [%s] [Sender: %s]", at.Format(headerTimeLayout), name, userPart(ev.SenderID))
}

// UserMessage builds the history entry stored for an inbound event.
func UserMessage(ev transport.Event, self string, at time.Time) model.Message {
	body := strings.TrimSpace(ev.Body)
	if self != "" {
		body = strings.TrimSpace(strings.ReplaceAll(body, "@"+userPart(self), ""))
	}

	if ev.Quoted != nil && ev.Quoted.Body != "" {
		body += fmt.Sprintf("\n[Replying to: %q]", truncateRunes(strings.ReplaceAll(ev.Quoted.Body, "\n", " "), quoteLimit))
	}

	msg := model.Message{Role: model.RoleUser}
	if m := ev.Media; m != nil && len(m.Data) > 0 {
		if strings.HasPrefix(m.MimeType, "image/") || strings.HasPrefix(m.MimeType, "audio/") {
			msg.Image = &model.InlineImage{MimeType: m.MimeType, Data: m.Data}
		} else {
			body += fmt.Sprintf("\n[System Note: the user attached a %s file]", m.MimeType)
		}
	}

	msg.Text = IdentityHeader(ev, at) + " : " + body
	return msg
}

// ReactionEvent is the system entry recorded for an inbound reaction.
func ReactionEvent(r transport.Reaction) model.Message {
	name := strings.TrimSpace(r.SenderName)
	if name == "" {
		name = userPart(r.SenderID)
	}
	return model.NewText(model.RoleSystem, fmt.Sprintf("[System Event]: %s reacted %s to a message.", name, r.Emoji))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
