// Package assistant handles inbound chat traffic: it records messages, decides
// whether to answer, and drives the completion and tool-call path.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/capability"
	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/internal/orchestrator"
	"github.com/capitalize-ai/chat-assistant/internal/selector"
	"github.com/capitalize-ai/chat-assistant/internal/store"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/metrics"
)

// DefaultPersona is the system prompt used when none is configured.
const DefaultPersona = "You are a friendly, witty assistant taking part in WhatsApp chats. " +
	"Every user message starts with a header telling you when it was sent and who sent it; " +
	"never repeat that header in your replies. Answer in the language the user writes in, " +
	"keep replies short and conversational, and use the available functions when they help."

const (
	defaultContextLimit = 100
	defaultRateLimit    = 10
	defaultRateWindow   = time.Minute
	stopTimeout         = 30 * time.Second
)

// Config tunes the request path.
type Config struct {
	Persona string
	// ContextLimit is how many recent messages are sent with each completion.
	ContextLimit   int
	UserRateLimit  int
	UserRateWindow time.Duration
	// Whitelist holds sender ids exempt from the per-user limit.
	Whitelist []string
}

// Reactor may react to messages the assistant does not answer.
type Reactor interface {
	Consider(ctx context.Context, ref transport.MessageRef) bool
}

// Monitor puts group conversations under autonomous engagement.
type Monitor interface {
	StartMonitoring(id string)
}

// IgnoreChecker reports conversations excluded from group activity.
type IgnoreChecker interface {
	Contains(id string) bool
}

// Deps are the collaborators of a Service. Reactor, Monitor, Ignore and Journal are optional.
type Deps struct {
	Store        *store.Store
	Selector     *selector.Selector
	Orchestrator *orchestrator.Orchestrator
	Pool         *llm.CredentialPool
	Registry     *capability.Registry
	Bridge       *capability.Bridge
	Messenger    transport.Messenger
	Journal      *Journal
	Reactor      Reactor
	Monitor      Monitor
	Ignore       IgnoreChecker
}

// Service is the assistant's request path. It implements transport.Handler.
type Service struct {
	cfg     Config
	deps    Deps
	limiter *userLimiter
	logger  *logger.Logger
	now     func() time.Time

	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

var _ transport.Handler = (*Service)(nil)

// New creates the service.
func New(cfg Config, deps Deps, log *logger.Logger) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Selector == nil:
		return nil, errors.New("selector is required")
	case deps.Orchestrator == nil:
		return nil, errors.New("orchestrator is required")
	case deps.Messenger == nil:
		return nil, errors.New("messenger is required")
	case deps.Registry == nil || deps.Bridge == nil:
		return nil, errors.New("capability registry and bridge are required")
	}

	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = defaultContextLimit
	}
	if cfg.UserRateLimit == 0 {
		cfg.UserRateLimit = defaultRateLimit
	}
	if cfg.UserRateWindow <= 0 {
		cfg.UserRateWindow = defaultRateWindow
	}
	if deps.Journal == nil {
		deps.Journal = NewJournal(nil, log)
	}

	return &Service{
		cfg:     cfg,
		deps:    deps,
		limiter: newUserLimiter(cfg.UserRateLimit, cfg.UserRateWindow, cfg.Whitelist),
		logger:  log.Named("assistant"),
		now:     time.Now,
	}, nil
}

// HandleEvent processes ev on its own goroutine.
func (s *Service) HandleEvent(ctx context.Context, ev transport.Event) {
	if !s.track() {
		return
	}
	go func() {
		defer s.wg.Done()
		defer s.recoverPanic("event", ev.ConversationID)
		s.Process(context.WithoutCancel(ctx), ev)
	}()
}

// HandleReaction records r on its own goroutine.
func (s *Service) HandleReaction(ctx context.Context, r transport.Reaction) {
	if !s.track() {
		return
	}
	go func() {
		defer s.wg.Done()
		defer s.recoverPanic("reaction", r.ConversationID)
		s.ProcessReaction(context.WithoutCancel(ctx), r)
	}()
}

func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) recoverPanic(kind, conversationID string) {
	if r := recover(); r != nil {
		s.logger.Error("handler panicked",
			zap.String("kind", kind),
			zap.String("conversation_id", conversationID),
			zap.Any("panic", r),
		)
	}
}

// Stop rejects new events and waits for in-flight ones.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn("timed out waiting for in-flight events")
	}
}

// Process handles one inbound message synchronously.
func (s *Service) Process(ctx context.Context, ev transport.Event) {
	if ev.FromSelf {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	id := ev.ConversationID
	log := s.logger.WithConversation(id)
	self := s.deps.Messenger.SelfID()

	ignored := ev.IsGroup && s.deps.Ignore != nil && s.deps.Ignore.Contains(id)
	addressed := !ev.IsGroup || mentions(ev, self) || (ev.Quoted != nil && ev.Quoted.FromSelf)
	msg := UserMessage(ev, self, ev.Timestamp)

	if ev.IsGroup && !ignored && s.deps.Monitor != nil {
		defer s.deps.Monitor.StartMonitoring(id)
	}

	if !addressed || ignored {
		s.record(ctx, id, msg)
		if ev.IsGroup && !ignored && s.deps.Reactor != nil {
			s.deps.Reactor.Consider(ctx, ev.Ref())
		}
		return
	}

	if ok, retryIn := s.limiter.allow(id, ev.SenderID, s.now()); !ok {
		metrics.UserRateLimited.Inc()
		log.Info("sender rate limited", zap.String("sender_id", ev.SenderID), zap.Duration("retry_in", retryIn))
		s.deps.Journal.Event(ctx, id, model.EventTypeRateLimit, "per-user limit", map[string]any{"sender_id": ev.SenderID})
		s.reply(ctx, ev.Ref(), rateLimitedMessage(s.cfg.UserRateLimit, s.cfg.UserRateWindow, retryIn))
		return
	}

	s.respond(ctx, ev, msg)
}

func (s *Service) respond(ctx context.Context, ev transport.Event, msg model.Message) {
	id := ev.ConversationID
	ref := ev.Ref()
	log := s.logger.WithConversation(id)

	if err := s.deps.Messenger.SetTyping(ctx, id, true); err != nil {
		log.Debug("failed to set typing", zap.Error(err))
	}
	defer func() {
		if err := s.deps.Messenger.SetTyping(ctx, id, false); err != nil {
			log.Debug("failed to clear typing", zap.Error(err))
		}
	}()

	s.record(ctx, id, msg)

	history := s.deps.Store.LoadHistory(ctx, id, s.cfg.ContextLimit)
	memory := s.deps.Store.LoadMemory(ctx, id)
	task := s.deps.Selector.Classify(history)
	chain := s.deps.Selector.FallbackChain(task)

	res := s.deps.Orchestrator.Run(ctx, orchestrator.Request{
		Messages: BuildPrompt(s.cfg.Persona, memory, history),
		Chain:    chain,
		Pool:     s.deps.Pool,
		Tools:    s.deps.Registry.Declarations(),
		TaskType: string(task),
	})

	log.Debug("completion finished",
		zap.String("task", string(task)),
		zap.Strings("chain", chain),
		zap.Stringer("kind", res.Kind),
		zap.String("model", res.Model),
		zap.Int("attempts", res.Attempts),
	)

	switch res.Kind {
	case orchestrator.ResultText:
		s.reply(ctx, ref, res.Text)
		s.recordModel(ctx, id, res.Text, res.Model)

	case orchestrator.ResultToolCalls:
		if text := strings.TrimSpace(res.Text); text != "" {
			s.reply(ctx, ref, text)
			s.recordModel(ctx, id, text, res.Model)
		}
		dispatchCtx := capability.WithMedia(capability.WithReceivedAt(ctx, ev.Timestamp), ev.Media)
		s.deps.Bridge.Dispatch(dispatchCtx, ref, res.ToolCalls, history)

	default:
		s.deps.Journal.Event(ctx, id, model.EventTypeExhausted, "fallback chain exhausted", map[string]any{
			"task_type": string(task),
			"attempts":  res.Attempts,
		})
		s.reply(ctx, ref, res.Text)
	}
}

// ProcessReaction records a reaction as a system entry.
func (s *Service) ProcessReaction(ctx context.Context, r transport.Reaction) {
	if sameUser(r.SenderID, s.deps.Messenger.SelfID()) || r.Emoji == "" {
		return
	}
	s.record(ctx, r.ConversationID, ReactionEvent(r))
	s.deps.Journal.Event(ctx, r.ConversationID, model.EventTypeReaction, r.Emoji, map[string]any{
		"sender_id":  r.SenderID,
		"message_id": r.MessageID,
	})
}

func (s *Service) record(ctx context.Context, id string, msg model.Message) {
	if err := s.deps.Store.AppendMessage(ctx, id, msg).Wait(); err != nil {
		s.logger.Error("failed to persist message", zap.String("conversation_id", id), zap.Error(err))
	}
	s.deps.Journal.Message(ctx, id, msg, "")
}

func (s *Service) recordModel(ctx context.Context, id, text, modelID string) {
	msg := model.NewText(model.RoleModel, text)
	if err := s.deps.Store.AppendMessage(ctx, id, msg).Wait(); err != nil {
		s.logger.Error("failed to persist reply", zap.String("conversation_id", id), zap.Error(err))
	}
	s.deps.Journal.Message(ctx, id, msg, modelID)
}

func (s *Service) reply(ctx context.Context, ref transport.MessageRef, text string) {
	if err := s.deps.Messenger.Reply(ctx, ref, text); err != nil {
		s.logger.Error("failed to send reply", zap.String("conversation_id", ref.ConversationID), zap.Error(err))
	}
}

// BuildPrompt turns the persona, permanent memory and history into completion messages.
func BuildPrompt(persona, memory string, history []model.Message) []llm.ChatMessage {
	system := persona
	if memory = strings.TrimSpace(memory); memory != "" {
		system += "\n\nPermanent memory about this conversation:\n" + memory
	}

	out := make([]llm.ChatMessage, 0, len(history)+1)
	out = append(out, llm.ChatMessage{Role: llm.RoleSystem, Content: system})
	for _, m := range history {
		msg := llm.ChatMessage{Role: llm.RoleUser, Content: m.Text}
		if m.Role == model.RoleModel {
			msg.Role = llm.RoleAssistant
		}
		if m.Image != nil {
			msg.Image = &llm.ImagePart{MimeType: m.Image.MimeType, Data: m.Image.Data}
		}
		out = append(out, msg)
	}
	return out
}

func rateLimitedMessage(limit int, window, retryIn time.Duration) string {
	secs := int(retryIn.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("Easy there! You've sent %d requests in the last %s. Try again in %d seconds.", limit, window, secs)
}
