package handler

import (
	"net/http"
	"time"
)

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck struct {
	Name  string
	Ready func() bool
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks  []ReadinessCheck
	started time.Time
}

// NewHealthHandler creates a health handler over checks.
func NewHealthHandler(checks ...ReadinessCheck) *HealthHandler {
	return &HealthHandler{checks: checks, started: time.Now()}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready handles GET /ready. Every check is reported; the first failing one is
// named in reason.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ready"}
	states := make(map[string]string, len(h.checks))
	status := http.StatusOK

	for _, c := range h.checks {
		if c.Ready() {
			states[c.Name] = "up"
			continue
		}
		states[c.Name] = "down"
		if status == http.StatusOK {
			status = http.StatusServiceUnavailable
			body["status"] = "not ready"
			body["reason"] = c.Name + " not connected"
		}
	}
	if len(states) > 0 {
		body["checks"] = states
	}

	writeJSON(w, status, body)
}
