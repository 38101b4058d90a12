package handler

import (
	"net/http"

	"github.com/capitalize-ai/chat-assistant/internal/selector"
)

// UsageReporter exposes the live per-model counters.
type UsageReporter interface {
	Snapshot() []selector.ModelUsage
}

// ModelHandler serves model usage.
type ModelHandler struct {
	usage UsageReporter
}

// NewModelHandler creates a new model handler.
func NewModelHandler(usage UsageReporter) *ModelHandler {
	return &ModelHandler{usage: usage}
}

// Usage handles GET /api/v1/models/usage
func (h *ModelHandler) Usage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.usage.Snapshot()})
}
