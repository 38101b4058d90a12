package assistant

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/metrics"
)

// Publisher is an append-only sink for conversation traffic.
type Publisher interface {
	PublishMessage(ctx context.Context, msg *model.JournalMessage) (uint64, error)
	PublishEvent(ctx context.Context, event *model.JournalEvent) (uint64, error)
}

// Journal records messages and notable events. Publishing is best effort: a
// failure is logged and never reaches the caller. The zero Publisher is allowed.
type Journal struct {
	publisher Publisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewJournal wraps publisher, which may be nil.
func NewJournal(publisher Publisher, log *logger.Logger) *Journal {
	return &Journal{publisher: publisher, logger: log.Named("journal"), now: time.Now}
}

// Message records one history entry.
func (j *Journal) Message(ctx context.Context, conversationID string, msg model.Message, modelID string) {
	metrics.MessagesTotal.WithLabelValues(string(msg.Role)).Inc()
	if j == nil || j.publisher == nil {
		return
	}

	_, err := j.publisher.PublishMessage(ctx, &model.JournalMessage{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Role:           msg.Role,
		Content:        msg.Text,
		Model:          modelID,
		HasImage:       msg.Image != nil,
		CreatedAt:      j.now(),
	})
	if err != nil {
		j.logger.Warn("failed to journal message", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// Event records a notable occurrence.
func (j *Journal) Event(ctx context.Context, conversationID string, typ model.EventType, reason string, metadata map[string]any) {
	if j == nil || j.publisher == nil {
		return
	}

	_, err := j.publisher.PublishEvent(ctx, &model.JournalEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Type:           typ,
		Reason:         reason,
		Metadata:       metadata,
		CreatedAt:      j.now(),
	})
	if err != nil {
		j.logger.Warn("failed to journal event",
			zap.String("conversation_id", conversationID),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}
