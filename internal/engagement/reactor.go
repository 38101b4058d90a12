package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/metrics"
)

const reactionSystem = `You pick an emoji reaction for the LAST message in a chat.
Choose the single emoji that fits it best, then rate how much it deserves a reaction:
- "wajib": very emotional (sad, angry, shocked, very funny) or a sharp change of topic.
- "penting": relevant and adds to the conversation.
- "opsional": an ordinary message, reacting is not urgent.
- "jangan_bereaksi": sensitive topics, serious grief, or nothing worth reacting to.
Answer in JSON: {"emoji": "one emoji", "urgency": "wajib" | "penting" | "opsional" | "jangan_bereaksi"}`

// Urgency tiers returned by the helper.
const (
	UrgencyMust      = "wajib"
	UrgencyImportant = "penting"
	UrgencyOptional  = "opsional"
	UrgencyNever     = "jangan_bereaksi"
)

// DefaultCooldown is the minimum gap between reactions in one conversation.
const DefaultCooldown = 30 * time.Second

var reactProbability = map[string]float64{
	UrgencyMust:      0.8,
	UrgencyImportant: 0.2,
	UrgencyOptional:  0.1,
	UrgencyNever:     0,
}

// HistoryLoader reads recent conversation history.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, conversationID string, limit int) []model.Message
}

// Verdict is the helper's reaction suggestion.
type Verdict struct {
	Emoji   string
	Urgency string
}

// Reactor decides whether to react to passive group messages.
type Reactor struct {
	history   HistoryLoader
	prompter  Prompter
	messenger transport.Messenger
	cooldown  time.Duration
	logger    *logger.Logger

	now    func() time.Time
	random func() float64

	mu   sync.Mutex
	last map[string]time.Time
}

// NewReactor creates an auto-reactor.
func NewReactor(cooldown time.Duration, history HistoryLoader, prompter Prompter, messenger transport.Messenger, log *logger.Logger) *Reactor {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Reactor{
		history:   history,
		prompter:  prompter,
		messenger: messenger,
		cooldown:  cooldown,
		logger:    log.Named("reactor"),
		now:       time.Now,
		random:    rand.Float64,
		last:      make(map[string]time.Time),
	}
}

// Consider may react to the message at ref. It reports whether a reaction was sent.
func (r *Reactor) Consider(ctx context.Context, ref transport.MessageRef) bool {
	id := ref.ConversationID
	if r.coolingDown(id) {
		return false
	}

	recent := r.history.LoadHistory(ctx, id, 20)
	if len(recent) == 0 {
		return false
	}
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Text))
	}

	raw, err := r.prompter.Prompt(ctx, reactionSystem, strings.Join(lines, "\n"), true)
	if err != nil {
		r.logger.Debug("reaction analysis failed", zap.String("conversation_id", id), zap.Error(err))
		return false
	}
	v, err := ParseVerdict(raw)
	if err != nil || v.Emoji == "" {
		r.logger.Debug("unusable reaction verdict", zap.String("conversation_id", id), zap.String("raw", raw))
		return false
	}

	label := v.Urgency
	if _, known := reactProbability[label]; !known {
		label = "unknown"
	}
	if r.random() >= reactProbability[v.Urgency] {
		metrics.ReactionsTotal.WithLabelValues(label, "skipped").Inc()
		return false
	}

	if err := r.messenger.React(ctx, ref, v.Emoji); err != nil {
		metrics.ReactionsTotal.WithLabelValues(label, "error").Inc()
		r.logger.Warn("failed to react", zap.String("conversation_id", id), zap.Error(err))
		return false
	}

	r.mu.Lock()
	r.last[id] = r.now()
	r.mu.Unlock()

	metrics.ReactionsTotal.WithLabelValues(label, "sent").Inc()
	r.logger.Info("reacted", zap.String("conversation_id", id), zap.String("emoji", v.Emoji), zap.String("urgency", v.Urgency))
	return true
}

func (r *Reactor) coolingDown(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.last[id]
	return ok && r.now().Sub(last) < r.cooldown
}

// ParseVerdict extracts a Verdict from a model reply. Both "urgency" and
// "urgensi" are accepted.
func ParseVerdict(raw string) (Verdict, error) {
	body, err := extractObject(raw)
	if err != nil {
		return Verdict{}, err
	}
	var loose struct {
		Emoji   string `json:"emoji"`
		Urgency string `json:"urgency"`
		Urgensi string `json:"urgensi"`
	}
	if err := json.Unmarshal([]byte(body), &loose); err != nil {
		return Verdict{}, fmt.Errorf("failed to decode verdict: %w", err)
	}

	urgency := loose.Urgency
	if urgency == "" {
		urgency = loose.Urgensi
	}
	return Verdict{
		Emoji:   strings.TrimSpace(loose.Emoji),
		Urgency: strings.ToLower(strings.TrimSpace(urgency)),
	}, nil
}
