package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task types understood by the scheduler.
const (
	TaskReminder        = "reminder"
	TaskImageGeneration = "image_generation"
)

// ScheduledTask is a unit of deferred work held in the durable queue.
type ScheduledTask struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Type           string    `json:"type"`
	Payload        string    `json:"payload"`
	ExecuteAt      time.Time `json:"executeAt"`
	CreatedAt      time.Time `json:"createdAt"`
	InFlight       bool      `json:"inFlight,omitempty"`
}

// Due reports whether the task should run at now.
func (t ScheduledTask) Due(now time.Time) bool {
	return !t.ExecuteAt.After(now)
}

// UnmarshalJSON also accepts queues written by the earlier bot, which keyed the
// conversation as chatId, stored times as epoch milliseconds and wrapped the
// payload in an object ({"text": ...} or {"prompt": ...}).
func (t *ScheduledTask) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             string          `json:"id"`
		ConversationID string          `json:"conversationId"`
		ChatID         string          `json:"chatId"`
		Type           string          `json:"type"`
		Payload        json.RawMessage `json:"payload"`
		ExecuteAt      json.RawMessage `json:"executeAt"`
		CreatedAt      json.RawMessage `json:"createdAt"`
		InFlight       bool            `json:"inFlight"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	payload, err := decodePayload(raw.Payload)
	if err != nil {
		return fmt.Errorf("task %s: %w", raw.ID, err)
	}
	executeAt, err := decodeTime(raw.ExecuteAt)
	if err != nil {
		return fmt.Errorf("task %s: executeAt: %w", raw.ID, err)
	}
	createdAt, err := decodeTime(raw.CreatedAt)
	if err != nil {
		return fmt.Errorf("task %s: createdAt: %w", raw.ID, err)
	}

	conv := raw.ConversationID
	if conv == "" {
		conv = raw.ChatID
	}
	*t = ScheduledTask{
		ID:             raw.ID,
		ConversationID: conv,
		Type:           raw.Type,
		Payload:        payload,
		ExecuteAt:      executeAt,
		CreatedAt:      createdAt,
		InFlight:       raw.InFlight,
	}
	return nil
}

func decodePayload(data json.RawMessage) (string, error) {
	if len(data) == 0 || string(data) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Text    string `json:"text"`
		Prompt  string `json:"prompt"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("payload: %w", err)
	}
	for _, v := range []string{obj.Text, obj.Prompt, obj.Content} {
		if v != "" {
			return v, nil
		}
	}
	return "", nil
}

func decodeTime(data json.RawMessage) (time.Time, error) {
	if len(data) == 0 || string(data) == "null" {
		return time.Time{}, nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	var ts time.Time
	if err := json.Unmarshal(data, &ts); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}
