// Package transport defines the messaging surface the assistant depends on.
package transport

import (
	"context"
	"errors"
	"time"
)

// Media is a downloaded attachment.
type Media struct {
	MimeType string
	Data     []byte
}

// Quoted is the message an inbound event replies to.
type Quoted struct {
	ID       string
	SenderID string
	Body     string
	FromSelf bool
}

// Event is an inbound message.
type Event struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Body           string
	IsGroup        bool
	FromSelf       bool
	Media          *Media
	Quoted         *Quoted
	MentionedIDs   []string
	Timestamp      time.Time
}

// Ref returns the reference used to reply to or react on e.
func (e Event) Ref() MessageRef {
	return MessageRef{
		ConversationID: e.ConversationID,
		MessageID:      e.ID,
		SenderID:       e.SenderID,
		Body:           e.Body,
		IsGroup:        e.IsGroup,
	}
}

// Mentions reports whether id is among the mentioned ids.
func (e Event) Mentions(id string) bool {
	for _, m := range e.MentionedIDs {
		if m == id {
			return true
		}
	}
	return false
}

// ErrNotGroup is returned for group-only operations on a direct conversation.
var ErrNotGroup = errors.New("conversation is not a group")

// Reaction is an inbound emoji reaction.
type Reaction struct {
	ConversationID string
	SenderID       string
	SenderName     string
	MessageID      string
	Emoji          string
}

// MessageRef identifies a message to reply to or react on.
type MessageRef struct {
	ConversationID string
	MessageID      string
	SenderID       string
	Body           string
	IsGroup        bool
}

// Messenger sends on behalf of the assistant.
type Messenger interface {
	Send(ctx context.Context, conversationID, text string, mentions []string) error
	Reply(ctx context.Context, ref MessageRef, text string) error
	ReplyMedia(ctx context.Context, ref MessageRef, path, caption string) error
	// ReplySticker sends the WebP file at path as a sticker quoting ref.
	ReplySticker(ctx context.Context, ref MessageRef, path string) error
	React(ctx context.Context, ref MessageRef, emoji string) error
	SetTyping(ctx context.Context, conversationID string, typing bool) error
	// GroupParticipants lists the member ids of a group conversation.
	GroupParticipants(ctx context.Context, conversationID string) ([]string, error)
	// SelfID is the assistant's own user id on the transport.
	SelfID() string
}

// Handler receives inbound traffic from a transport.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
	HandleReaction(ctx context.Context, r Reaction)
}
