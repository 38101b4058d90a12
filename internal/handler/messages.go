package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

// JournalReader reads journaled conversation messages.
type JournalReader interface {
	Messages(ctx context.Context, conversationID string, afterSequence uint64, limit int) ([]model.JournalMessage, uint64, bool, error)
	Tail(ctx context.Context, conversationID string, afterSequence uint64, fn func(model.JournalMessage)) error
}

// JournalPage is the body of GET /conversations/{id}/journal.
type JournalPage struct {
	Messages     []model.JournalMessage `json:"messages"`
	LastSequence uint64                 `json:"last_sequence"`
	HasMore      bool                   `json:"has_more"`
}

// MessageHandler serves the message journal.
type MessageHandler struct {
	journal JournalReader
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(journal JournalReader, log *logger.Logger) *MessageHandler {
	return &MessageHandler{journal: journal, logger: log.Named("api")}
}

// List handles GET /api/v1/conversations/{id}/journal
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	messages, last, hasMore, err := h.journal.Messages(r.Context(), id, queryUint(r, "after_sequence"), queryInt(r, "limit", 50, 100))
	if err != nil {
		h.logger.Error("failed to read journal", zap.String("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if messages == nil {
		messages = []model.JournalMessage{}
	}

	writeJSON(w, http.StatusOK, &JournalPage{Messages: messages, LastSequence: last, HasMore: hasMore})
}
