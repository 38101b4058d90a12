// Package orchestrator runs completions across a model chain and a credential pool.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/metrics"
)

// ExhaustedMessage is the degraded reply used when every attempt failed.
const ExhaustedMessage = "Sorry, all of my AI models are busy right now. Please try again in a little while."

var errEmptyResponse = errors.New("empty completion response")

// ResultKind tells which branch of a Result is populated.
type ResultKind int

const (
	ResultText ResultKind = iota
	ResultToolCalls
	ResultExhausted
)

func (k ResultKind) String() string {
	switch k {
	case ResultText:
		return "text"
	case ResultToolCalls:
		return "tool_calls"
	default:
		return "exhausted"
	}
}

// Result is the outcome of Run.
type Result struct {
	Kind       ResultKind
	Text       string
	ToolCalls  []llm.ToolCall
	Model      string
	Credential string
	Attempts   int
}

// UsageRecorder receives accounting for successful completions.
type UsageRecorder interface {
	UpdateUsage(modelID string, tokens int)
}

// Request is one logical completion over a fallback chain.
type Request struct {
	Messages []llm.ChatMessage
	Chain    []string
	Pool     *llm.CredentialPool
	Tools    []llm.ToolDefinition
	// TaskType only labels metrics and logs.
	TaskType string
}

// Orchestrator walks model x credential pairs until one succeeds.
type Orchestrator struct {
	usage       UsageRecorder
	logger      *logger.Logger
	tracer      trace.Tracer
	maxTokens   int
	temperature float64
}

// New creates an orchestrator that reports usage to usage.
func New(usage UsageRecorder, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		usage:       usage,
		logger:      log.Named("orchestrator"),
		tracer:      otel.Tracer("github.com/capitalize-ai/chat-assistant/internal/orchestrator"),
		maxTokens:   4096,
		temperature: 1.0,
	}
}

// Run tries every model in req.Chain with every credential in req.Pool, in order,
// and returns the first success. Rate limits and other errors both move on to the
// next credential. When nothing succeeds the result is ResultExhausted.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	attempts := 0
	creds := req.Pool.All()

	for _, modelID := range req.Chain {
		for _, cred := range creds {
			if ctx.Err() != nil {
				o.logger.Warn("completion abandoned", zap.Int("attempts", attempts), zap.Error(ctx.Err()))
				return o.exhausted(req, attempts)
			}

			attempts++
			resp, err := o.attempt(ctx, modelID, cred, req)
			if err != nil {
				o.logger.Warn("completion attempt failed",
					zap.String("model", modelID),
					zap.String("credential", cred.Name),
					zap.Bool("rate_limited", llm.IsRateLimited(err)),
					zap.Error(err),
				)
				continue
			}

			o.usage.UpdateUsage(modelID, resp.TotalTokens())
			metrics.RecordTokens(modelID, resp.TokensIn, resp.TokensOut)

			result := Result{
				Kind:       ResultText,
				Text:       resp.Content,
				Model:      modelID,
				Credential: cred.Name,
				Attempts:   attempts,
			}
			if len(resp.ToolCalls) > 0 {
				result.Kind = ResultToolCalls
				result.ToolCalls = resp.ToolCalls
			}

			o.logger.Debug("completion succeeded",
				zap.String("model", modelID),
				zap.String("credential", cred.Name),
				zap.Stringer("kind", result.Kind),
				zap.Int("attempts", attempts),
			)
			return result
		}
	}

	return o.exhausted(req, attempts)
}

func (o *Orchestrator) attempt(ctx context.Context, modelID string, cred llm.Credential, req Request) (*llm.CompletionResponse, error) {
	ctx, span := o.tracer.Start(ctx, "llm.completion",
		trace.WithAttributes(
			attribute.String("llm.model", modelID),
			attribute.String("llm.credential", cred.Name),
			attribute.String("llm.task_type", req.TaskType),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := cred.Client.Complete(ctx, &llm.CompletionRequest{
		Model:       modelID,
		Messages:    req.Messages,
		Tools:       req.Tools,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err == nil && resp.Content == "" && len(resp.ToolCalls) == 0 {
		err = errEmptyResponse
	}

	outcome := "ok"
	switch {
	case llm.IsRateLimited(err):
		outcome = "rate_limited"
	case err != nil:
		outcome = "error"
	}
	metrics.RecordAttempt(modelID, cred.Name, outcome, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	return resp, nil
}

func (o *Orchestrator) exhausted(req Request, attempts int) Result {
	metrics.ChainsExhausted.WithLabelValues(req.TaskType).Inc()
	o.logger.Error("fallback chain exhausted",
		zap.String("task_type", req.TaskType),
		zap.Strings("chain", req.Chain),
		zap.Int("credentials", req.Pool.Len()),
		zap.Int("attempts", attempts),
	)
	return Result{Kind: ResultExhausted, Text: ExhaustedMessage, Attempts: attempts}
}
