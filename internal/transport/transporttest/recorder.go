// Package transporttest provides a recording Messenger for tests.
package transporttest

import (
	"context"
	"os"
	"sync"

	"github.com/capitalize-ai/chat-assistant/internal/transport"
)

// Sent is one outbound operation captured by Recorder.
type Sent struct {
	Op             string
	ConversationID string
	ReplyTo        string
	Text           string
	Mentions       []string
	// MediaExisted reports whether the media file was present when sent.
	MediaExisted bool
	MediaPath    string
}

// Recorder implements transport.Messenger and keeps every call.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	Self string
	// Err, when set, is returned by every operation.
	Err error
	// Participants maps group ids to their member ids.
	Participants map[string][]string
}

var _ transport.Messenger = (*Recorder)(nil)

// Sent returns a copy of the recorded operations.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Ops returns only the recorded operations of kind op.
func (r *Recorder) Ops(op string) []Sent {
	var out []Sent
	for _, s := range r.Sent() {
		if s.Op == op {
			out = append(out, s)
		}
	}
	return out
}

func (r *Recorder) record(s Sent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, s)
	return r.Err
}

func (r *Recorder) Send(ctx context.Context, conversationID, text string, mentions []string) error {
	return r.record(Sent{Op: "send", ConversationID: conversationID, Text: text, Mentions: mentions})
}

func (r *Recorder) Reply(ctx context.Context, ref transport.MessageRef, text string) error {
	return r.record(Sent{Op: "reply", ConversationID: ref.ConversationID, ReplyTo: ref.MessageID, Text: text})
}

func (r *Recorder) ReplyMedia(ctx context.Context, ref transport.MessageRef, path, caption string) error {
	_, err := os.Stat(path)
	return r.record(Sent{
		Op:             "media",
		ConversationID: ref.ConversationID,
		ReplyTo:        ref.MessageID,
		Text:           caption,
		MediaPath:      path,
		MediaExisted:   err == nil,
	})
}

func (r *Recorder) ReplySticker(ctx context.Context, ref transport.MessageRef, path string) error {
	_, err := os.Stat(path)
	return r.record(Sent{
		Op:             "sticker",
		ConversationID: ref.ConversationID,
		ReplyTo:        ref.MessageID,
		MediaPath:      path,
		MediaExisted:   err == nil,
	})
}

func (r *Recorder) React(ctx context.Context, ref transport.MessageRef, emoji string) error {
	return r.record(Sent{Op: "react", ConversationID: ref.ConversationID, ReplyTo: ref.MessageID, Text: emoji})
}

func (r *Recorder) SetTyping(ctx context.Context, conversationID string, typing bool) error {
	op := "typing_off"
	if typing {
		op = "typing_on"
	}
	return r.record(Sent{Op: op, ConversationID: conversationID})
}

func (r *Recorder) GroupParticipants(ctx context.Context, conversationID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	members, ok := r.Participants[conversationID]
	if !ok {
		return nil, transport.ErrNotGroup
	}
	return append([]string(nil), members...), nil
}

func (r *Recorder) SelfID() string {
	return r.Self
}
