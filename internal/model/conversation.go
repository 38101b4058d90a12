// Package model defines data structures shared by the assistant packages.
package model

import (
	"time"
)

// ConversationRecord is the persisted history of one conversation.
type ConversationRecord struct {
	ConversationID string    `json:"conversationId"`
	History        []Message `json:"history"`
	MessageCount   int       `json:"messageCount"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// MemoryRecord holds the long-lived facts of one conversation.
type MemoryRecord struct {
	ConversationID string    `json:"conversationId"`
	Memory         string    `json:"memory"`
	LastUpdated    time.Time `json:"lastUpdated"`
}
