package model

import (
	"time"
)

// EventType represents the type of journal event.
type EventType string

const (
	EventTypeRateLimit     EventType = "rate_limited"
	EventTypeExhausted     EventType = "exhausted"
	EventTypeFunctionError EventType = "function_error"
	EventTypeTaskFailed    EventType = "task_failed"
	EventTypeEngagement    EventType = "engagement_sent"
	EventTypeReaction      EventType = "reaction"
)

// JournalEvent is a notable occurrence in a conversation.
type JournalEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Sequence       uint64         `json:"sequence,omitempty"`
}

// JournalMessage is a conversation message as published to the journal.
type JournalMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`
	HasImage       bool      `json:"has_image,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Sequence       uint64    `json:"sequence,omitempty"`
}
