package capability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/internal/store"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/metrics"
)

// HistoryAppender persists trace entries.
type HistoryAppender interface {
	AppendMessages(ctx context.Context, conversationID string, msgs ...model.Message) *store.Write
}

// ErrorReporter is told about failed calls, e.g. to journal them.
type ErrorReporter func(ctx context.Context, conversationID, capability string, err error)

// Bridge dispatches tool calls to the registry.
type Bridge struct {
	registry  *Registry
	history   HistoryAppender
	messenger transport.Messenger
	logger    *logger.Logger
	onError   ErrorReporter
	now       func() time.Time
}

// NewBridge creates a dispatch bridge.
func NewBridge(registry *Registry, history HistoryAppender, messenger transport.Messenger, log *logger.Logger) *Bridge {
	return &Bridge{
		registry:  registry,
		history:   history,
		messenger: messenger,
		logger:    log.Named("dispatch"),
		now:       time.Now,
	}
}

// OnError installs a reporter for failed calls.
func (b *Bridge) OnError(fn ErrorReporter) {
	b.onError = fn
}

type receivedAtKey struct{}

// WithReceivedAt records when the triggering message arrived.
func WithReceivedAt(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, receivedAtKey{}, t)
}

type mediaKey struct{}

// WithMedia attaches the media of the triggering message.
func WithMedia(ctx context.Context, m *transport.Media) context.Context {
	if m == nil {
		return ctx
	}
	return context.WithValue(ctx, mediaKey{}, m)
}

// ExecutedTrace is the default history entry for a successful call.
func ExecutedTrace(name string) string {
	return fmt.Sprintf("[Executed capability %s]", name)
}

// ErrorTrace is the history entry for a failed call.
func ErrorTrace(name string) string {
	return fmt.Sprintf("[Function Error: %s]", name)
}

// Dispatch runs calls in order. A failing call is reported to the user and traced
// but never stops the calls after it. The trace entries are persisted once, at the
// end, and the history including them is returned.
func (b *Bridge) Dispatch(ctx context.Context, ref transport.MessageRef, calls []llm.ToolCall, history []model.Message) []model.Message {
	conversationID := ref.ConversationID
	log := b.logger.WithConversation(conversationID)
	receivedAt, ok := ctx.Value(receivedAtKey{}).(time.Time)
	if !ok {
		receivedAt = b.now()
	}
	media, _ := ctx.Value(mediaKey{}).(*transport.Media)

	traces := make([]model.Message, 0, len(calls))
	for _, call := range calls {
		outcome, err := b.invoke(ctx, call, Invocation{
			ConversationID: conversationID,
			Ref:            ref,
			Media:          media,
			Args:           call.Args,
			History:        history,
			ReceivedAt:     receivedAt,
		})
		if err != nil {
			metrics.RecordDispatch(call.Name, "error")
			log.Warn("capability failed", zap.String("capability", call.Name), zap.Error(err))

			if sendErr := b.messenger.Reply(ctx, ref, userErrorMessage(call.Name)); sendErr != nil {
				log.Warn("failed to report capability error", zap.Error(sendErr))
			}
			if b.onError != nil {
				b.onError(ctx, conversationID, call.Name, err)
			}
			traces = append(traces, model.NewText(model.RoleModel, ErrorTrace(call.Name)))
			continue
		}

		metrics.RecordDispatch(call.Name, "ok")
		if outcome.Reply != "" {
			if sendErr := b.messenger.Reply(ctx, ref, outcome.Reply); sendErr != nil {
				log.Warn("failed to send capability reply", zap.String("capability", call.Name), zap.Error(sendErr))
			}
		}

		summary := outcome.Summary
		if summary == "" {
			summary = ExecutedTrace(call.Name)
		}
		traces = append(traces, model.NewText(model.RoleModel, summary))
	}

	if err := b.history.AppendMessages(ctx, conversationID, traces...).Wait(); err != nil {
		log.Error("failed to persist dispatch trace", zap.Error(err))
	}

	return append(model.Clone(history), traces...)
}

func (b *Bridge) invoke(ctx context.Context, call llm.ToolCall, inv Invocation) (outcome Outcome, err error) {
	c, ok := b.registry.Lookup(call.Name)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownCapability, call.Name)
	}
	if inv.Args == nil {
		inv.Args = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %s panicked: %v", call.Name, r)
		}
	}()
	return c.Invoke(ctx, inv)
}

func userErrorMessage(name string) string {
	return fmt.Sprintf("Sorry, something went wrong while running %s. Please try again.", name)
}
