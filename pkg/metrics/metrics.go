// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SSEConnectionsActive tracks open journal streams on the ops API.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// JournalPublished tracks journal publishes by kind and outcome.
	JournalPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_published_total",
			Help: "Journal publishes by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// CompletionAttempts tracks every provider call made by the orchestrator.
	CompletionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_completion_attempts_total",
			Help: "Completion attempts by model, credential and outcome",
		},
		[]string{"model", "credential", "outcome"},
	)

	// CompletionDuration tracks provider call latency.
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "Completion call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "outcome"},
	)

	// ChainsExhausted counts requests where every model and credential failed.
	ChainsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_chain_exhausted_total",
			Help: "Requests that exhausted the whole fallback chain",
		},
		[]string{"task_type"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ModelUsage mirrors the selector's per-model counters.
	ModelUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llm_model_usage",
			Help: "Current per-model usage counters",
		},
		[]string{"model", "dimension"},
	)

	// DispatchTotal tracks capability invocations from tool calls.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capability_dispatch_total",
			Help: "Capability invocations by name and status",
		},
		[]string{"capability", "status"},
	)

	// ScheduledTasksTotal tracks executed deferred tasks.
	ScheduledTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_tasks_total",
			Help: "Deferred tasks executed by type and status",
		},
		[]string{"type", "status"},
	)

	// SchedulerQueueDepth tracks tasks waiting in the durable queue.
	SchedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_queue_depth",
			Help: "Tasks currently held in the durable queue",
		},
	)

	// EngagementDecisions tracks autonomous engagement outcomes.
	EngagementDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_decisions_total",
			Help: "Autonomous engagement outcomes",
		},
		[]string{"outcome"},
	)

	// ReactionsTotal tracks auto-reaction outcomes.
	ReactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reactions_total",
			Help: "Auto-reaction outcomes by urgency",
		},
		[]string{"urgency", "outcome"},
	)

	// MessagesTotal tracks messages handled per role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total conversation messages recorded",
		},
		[]string{"role"},
	)

	// UserRateLimited counts inbound messages rejected by the per-user limiter.
	UserRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "user_rate_limited_total",
			Help: "Inbound requests rejected by the per-user limiter",
		},
	)

	// CachedConversations tracks conversations resident in the store cache.
	CachedConversations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_cached_conversations",
			Help: "Records resident in the conversation store cache",
		},
		[]string{"kind"},
	)

	// PersistenceErrors counts failed disk writes.
	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_persistence_errors_total",
			Help: "Failed persistence writes by kind",
		},
		[]string{"kind"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordAttempt records one orchestrator attempt.
func RecordAttempt(model, credential, outcome string, duration float64) {
	CompletionAttempts.WithLabelValues(model, credential, outcome).Inc()
	CompletionDuration.WithLabelValues(model, outcome).Observe(duration)
}

// RecordTokens records token consumption for a successful completion.
func RecordTokens(model string, tokensIn, tokensOut int) {
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// SetModelUsage publishes the selector counters for one model.
func SetModelUsage(model string, rpm, tpm, rpd int) {
	ModelUsage.WithLabelValues(model, "rpm").Set(float64(rpm))
	ModelUsage.WithLabelValues(model, "tpm").Set(float64(tpm))
	ModelUsage.WithLabelValues(model, "rpd").Set(float64(rpd))
}

// RecordDispatch records one capability invocation.
func RecordDispatch(capability, status string) {
	DispatchTotal.WithLabelValues(capability, status).Inc()
}

// RecordTask records one executed deferred task.
func RecordTask(taskType, status string) {
	ScheduledTasksTotal.WithLabelValues(taskType, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
