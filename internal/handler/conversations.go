// Package handler provides the ops API HTTP handlers.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/middleware"
	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/internal/store"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

// ConversationStore is the part of the store the ops API reads and edits.
type ConversationStore interface {
	LoadHistory(ctx context.Context, conversationID string, limit int) []model.Message
	LoadMemory(ctx context.Context, conversationID string) string
	SaveMemory(conversationID, memory string) *store.Write
}

// HistoryResponse is the body of GET /conversations/{id}/history.
type HistoryResponse struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

// MemoryRequest is the body of PUT /conversations/{id}/memory.
type MemoryRequest struct {
	Memory string `json:"memory"`
}

// MemoryResponse is the body of memory endpoints.
type MemoryResponse struct {
	ConversationID string `json:"conversation_id"`
	Memory         string `json:"memory"`
}

// ConversationHandler handles conversation history and memory endpoints.
type ConversationHandler struct {
	store  ConversationStore
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(s ConversationStore, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{store: s, logger: log.Named("api")}
}

// History handles GET /api/v1/conversations/{id}/history
func (h *ConversationHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	messages := h.store.LoadHistory(r.Context(), id, queryInt(r, "limit", 100, 10000))
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, &HistoryResponse{ConversationID: id, Messages: messages})
}

// Memory handles GET /api/v1/conversations/{id}/memory
func (h *ConversationHandler) Memory(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, &MemoryResponse{ConversationID: id, Memory: h.store.LoadMemory(r.Context(), id)})
}

// UpdateMemory handles PUT /api/v1/conversations/{id}/memory
func (h *ConversationHandler) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req MemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMemory(req.Memory); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SaveMemory(id, req.Memory).Wait(); err != nil {
		h.logger.Error("failed to save memory", zap.String("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save memory")
		return
	}

	h.logger.Info("memory replaced",
		zap.String("conversation_id", id),
		zap.String("subject", middleware.GetSubject(r.Context())),
	)
	writeJSON(w, http.StatusOK, &MemoryResponse{ConversationID: id, Memory: req.Memory})
}

func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
