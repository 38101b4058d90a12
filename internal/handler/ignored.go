package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

// IgnoreList is the persisted set of groups excluded from group activity.
type IgnoreList interface {
	List() []string
	Add(id string) (bool, error)
	Remove(id string) (bool, error)
}

// IgnoreHandler manages the ignore list.
type IgnoreHandler struct {
	list   IgnoreList
	logger *logger.Logger
}

// NewIgnoreHandler creates a new ignore list handler.
func NewIgnoreHandler(list IgnoreList, log *logger.Logger) *IgnoreHandler {
	return &IgnoreHandler{list: list, logger: log.Named("api")}
}

// List handles GET /api/v1/ignored
func (h *IgnoreHandler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.list.List()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"conversations": ids})
}

// Add handles PUT /api/v1/ignored/{id}
func (h *IgnoreHandler) Add(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.list.Add)
}

// Remove handles DELETE /api/v1/ignored/{id}
func (h *IgnoreHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.list.Remove)
}

func (h *IgnoreHandler) change(w http.ResponseWriter, r *http.Request, fn func(string) (bool, error)) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	changed, err := fn(id)
	if err != nil {
		h.logger.Error("failed to update ignore list", zap.String("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update ignore list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "changed": changed})
}
