package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxConversationIDLength = 256
	maxMemoryLength         = 100000
)

// ValidateConversationID validates a transport conversation id.
func ValidateConversationID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errors.New("conversation ID cannot be empty")
	case len(id) > maxConversationIDLength:
		return errors.New("conversation ID exceeds maximum length")
	case !utf8.ValidString(id):
		return errors.New("conversation ID must be valid UTF-8")
	}
	return nil
}

// ValidateMemory validates a replacement memory document.
func ValidateMemory(content string) error {
	if len(content) > maxMemoryLength {
		return errors.New("memory exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("memory must be valid UTF-8")
	}
	return nil
}

// ValidateTaskPayload validates the payload of a task created over the API.
func ValidateTaskPayload(payload string) error {
	if strings.TrimSpace(payload) == "" {
		return errors.New("payload cannot be empty")
	}
	if len(payload) > maxMemoryLength {
		return errors.New("payload exceeds maximum length")
	}
	if !utf8.ValidString(payload) {
		return errors.New("payload must be valid UTF-8")
	}
	return nil
}
