package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/chat-assistant/internal/middleware"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

// RouterConfig collects the ops API handlers. Messages and Stream are nil when
// the journal is disabled.
type RouterConfig struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Health        *HealthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Stream        *StreamHandler
	Tasks         *TaskHandler
	Ignored       *IgnoreHandler
	Models        *ModelHandler
}

// NewRouter builds the ops API.
func NewRouter(cfg RouterConfig, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		write := middleware.RequireScope(middleware.ScopeWrite)

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/history", cfg.Conversations.History)
			r.Get("/memory", cfg.Conversations.Memory)
			r.With(write).Put("/memory", cfg.Conversations.UpdateMemory)

			if cfg.Messages != nil {
				r.Get("/journal", cfg.Messages.List)
			}
			if cfg.Stream != nil {
				r.Get("/journal/stream", cfg.Stream.Stream)
			}
		})

		r.Get("/tasks", cfg.Tasks.List)
		r.With(write).Post("/tasks", cfg.Tasks.Create)

		r.Get("/ignored", cfg.Ignored.List)
		r.With(write).Put("/ignored/{id}", cfg.Ignored.Add)
		r.With(write).Delete("/ignored/{id}", cfg.Ignored.Remove)

		r.Get("/models/usage", cfg.Models.Usage)
	})

	return r
}
