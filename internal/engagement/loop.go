// Package engagement lets the assistant start conversations and react to
// messages on its own.
package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/internal/store"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/metrics"
)

const decisionSystem = `You are a member of a WhatsApp group chat. Decide whether you should send a message on your own initiative, without being mentioned.
The message must feel natural, like a person casually chiming in, greeting, or livening things up.
Rules:
- Do not chat while a conversation is active and there is no opening.
- Do not spam.
- If the group has been quiet for more than 6 hours you may say hello or bring up an interesting topic.
- If an interesting topic from earlier was left unfinished you may pick it up again.
Answer in JSON: {"shouldChat": true or false, "reason": "why", "message": "your message when shouldChat is true"}`

// Prompter makes a single lightweight completion.
type Prompter interface {
	Prompt(ctx context.Context, system, prompt string, jsonMode bool) (string, error)
}

// History is the slice of the conversation store the loop needs.
type History interface {
	LoadHistory(ctx context.Context, conversationID string, limit int) []model.Message
	AppendMessage(ctx context.Context, conversationID string, msg model.Message) *store.Write
}

// Config tunes the engagement loop.
type Config struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// StartHour and EndHour bound the allowed local hours, both inclusive.
	// They are taken as given; 0..0 allows only the midnight hour.
	StartHour     int
	EndHour       int
	HistoryWindow int
	TypingDelay   time.Duration
}

// DefaultConfig returns the stock engagement settings.
func DefaultConfig() Config {
	return Config{
		MinInterval:   15 * time.Minute,
		MaxInterval:   30 * time.Minute,
		StartHour:     7,
		EndHour:       22,
		HistoryWindow: 20,
		TypingDelay:   2 * time.Second,
	}
}

// Decision is the helper's verdict on whether to speak up.
type Decision struct {
	ShouldChat bool   `json:"shouldChat"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

// Outcome of a single Think pass.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeOffHours  Outcome = "off_hours"
	OutcomeNoHistory Outcome = "no_history"
	OutcomeDeclined  Outcome = "declined"
	OutcomeSent      Outcome = "sent"
	OutcomeFailed    Outcome = "failed"
)

// Loop periodically asks the helper model whether to post in monitored groups.
type Loop struct {
	cfg       Config
	ignore    *IgnoreList
	history   History
	prompter  Prompter
	messenger transport.Messenger
	logger    *logger.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
	onSent func(ctx context.Context, conversationID string, d Decision)

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewLoop creates an engagement loop. Nothing runs until Start.
func NewLoop(cfg Config, ignore *IgnoreList, history History, prompter Prompter, messenger transport.Messenger, log *logger.Logger) *Loop {
	def := DefaultConfig()
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}

	l := &Loop{
		cfg:       cfg,
		ignore:    ignore,
		history:   history,
		prompter:  prompter,
		messenger: messenger,
		logger:    log.Named("engagement"),
		now:       time.Now,
		sleep:     sleepCtx,
		random:    rand.Float64,
		entries:   make(map[string]cron.EntryID),
	}
	l.cron = cron.New(
		cron.WithLogger(l.logger.Cron()),
		cron.WithChain(cron.Recover(l.logger.Cron()), cron.SkipIfStillRunning(l.logger.Cron())),
	)
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l
}

// OnSent installs a hook called after an unprompted message went out.
func (l *Loop) OnSent(fn func(ctx context.Context, conversationID string, d Decision)) {
	l.onSent = fn
}

// Start begins firing monitored conversations.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.cron.Start()
	l.logger.Info("engagement loop started",
		zap.Duration("min_interval", l.cfg.MinInterval),
		zap.Duration("max_interval", l.cfg.MaxInterval),
	)
}

// Stop halts every timer and waits for running passes.
func (l *Loop) Stop() {
	l.mu.Lock()
	started := l.started
	l.started = false
	l.mu.Unlock()

	if started {
		<-l.cron.Stop().Done()
	}
	l.cancel()
}

// StartMonitoring puts id under periodic evaluation. It is a no-op for
// conversations already monitored.
func (l *Loop) StartMonitoring(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[id]; ok {
		return
	}
	schedule := randomDelay{min: l.cfg.MinInterval, max: l.cfg.MaxInterval, random: l.random}
	l.entries[id] = l.cron.Schedule(schedule, cron.FuncJob(func() {
		l.Think(l.ctx, id)
	}))
	l.logger.Info("monitoring conversation", zap.String("conversation_id", id))
}

// StopMonitoring removes the timer of id.
func (l *Loop) StopMonitoring(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return
	}
	l.cron.Remove(entry)
	delete(l.entries, id)
	l.logger.Info("stopped monitoring conversation", zap.String("conversation_id", id))
}

// Monitoring reports whether id has a timer.
func (l *Loop) Monitoring(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

// Think evaluates one conversation and posts a message if the helper decides to.
func (l *Loop) Think(ctx context.Context, id string) Outcome {
	outcome, err := l.think(ctx, id)
	metrics.EngagementDecisions.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		l.logger.Warn("engagement pass failed", zap.String("conversation_id", id), zap.Error(err))
	}
	return outcome
}

func (l *Loop) think(ctx context.Context, id string) (Outcome, error) {
	if l.ignore != nil && l.ignore.Contains(id) {
		return OutcomeIgnored, nil
	}
	if !l.allowedHour(l.now()) {
		return OutcomeOffHours, nil
	}

	recent := l.history.LoadHistory(ctx, id, l.cfg.HistoryWindow)
	if len(recent) == 0 {
		return OutcomeNoHistory, nil
	}

	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		lines = append(lines, m.Text)
	}
	raw, err := l.prompter.Prompt(ctx, decisionSystem, "Recent messages:\n"+strings.Join(lines, "\n"), true)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("decision request failed: %w", err)
	}

	d, err := ParseDecision(raw)
	if err != nil {
		return OutcomeFailed, err
	}

	log := l.logger.With(zap.String("conversation_id", id), zap.String("reason", d.Reason))
	if !d.ShouldChat || strings.TrimSpace(d.Message) == "" {
		log.Info("decided not to chat")
		return OutcomeDeclined, nil
	}

	if err := l.messenger.SetTyping(ctx, id, true); err != nil {
		log.Debug("failed to set typing", zap.Error(err))
	}
	if err := l.sleep(ctx, l.cfg.TypingDelay); err != nil {
		return OutcomeFailed, err
	}
	if err := l.messenger.SetTyping(ctx, id, false); err != nil {
		log.Debug("failed to clear typing", zap.Error(err))
	}

	if err := l.messenger.Send(ctx, id, d.Message, nil); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to send message: %w", err)
	}
	if err := l.history.AppendMessage(ctx, id, model.NewText(model.RoleModel, d.Message)).Wait(); err != nil {
		log.Error("failed to record unprompted message", zap.Error(err))
	}
	if l.onSent != nil {
		l.onSent(ctx, id, d)
	}

	log.Info("decided to chat")
	return OutcomeSent, nil
}

func (l *Loop) allowedHour(t time.Time) bool {
	h := t.Hour()
	return h >= l.cfg.StartHour && h <= l.cfg.EndHour
}

// ParseDecision extracts a Decision from a model reply, tolerating code fences,
// surrounding prose and string-typed booleans.
func ParseDecision(raw string) (Decision, error) {
	body, err := extractObject(raw)
	if err != nil {
		return Decision{}, err
	}

	var loose struct {
		ShouldChat any    `json:"shouldChat"`
		Reason     string `json:"reason"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &loose); err != nil {
		return Decision{}, fmt.Errorf("failed to decode decision: %w", err)
	}

	d := Decision{Reason: loose.Reason, Message: strings.TrimSpace(loose.Message)}
	switch v := loose.ShouldChat.(type) {
	case bool:
		d.ShouldChat = v
	case string:
		d.ShouldChat = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return d, nil
}

func extractObject(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", errors.New("no JSON object in reply")
	}
	return raw[start : end+1], nil
}

// randomDelay fires at a uniformly random offset in [min, max] after each run.
type randomDelay struct {
	min, max time.Duration
	random   func() float64
}

func (s randomDelay) Next(t time.Time) time.Time {
	return t.Add(s.min + time.Duration(s.random()*float64(s.max-s.min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
