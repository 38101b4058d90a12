// Package selector picks candidate models for a request and tracks their quota usage.
package selector

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/metrics"
)

// ResetSpec is the cron spec of the usage reset sweep.
const ResetSpec = "@every 1m"

const dayLayout = "2006-01-02"

// ModelDescriptor is the static rate-limit metadata of a model.
type ModelDescriptor struct {
	ID  string `yaml:"id" json:"id"`
	RPM int    `yaml:"rpm" json:"rpm"`
	TPM int    `yaml:"tpm" json:"tpm"`
	RPD int    `yaml:"rpd" json:"rpd"`
}

// Usage holds the live counters of one model.
type Usage struct {
	UsedRPM         int       `json:"usedRpm"`
	UsedTPM         int       `json:"usedTpm"`
	UsedRPD         int       `json:"usedRpd"`
	LastResetMinute time.Time `json:"lastResetMinute"`
	LastResetDay    string    `json:"lastResetDay"`
}

// ModelUsage pairs a descriptor with its current counters.
type ModelUsage struct {
	ModelDescriptor
	Usage
}

// Selector classifies requests and returns quota-filtered model chains.
type Selector struct {
	mu     sync.Mutex
	models map[string]ModelDescriptor
	usage  map[string]*Usage
	chains map[TaskType][]string

	now    func() time.Time
	cron   *cron.Cron
	logger *logger.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

// New creates a selector over models with the given task chains.
func New(models []ModelDescriptor, chains map[TaskType][]string, log *logger.Logger, opts ...Option) (*Selector, error) {
	s := &Selector{
		models: make(map[string]ModelDescriptor, len(models)),
		usage:  make(map[string]*Usage, len(models)),
		chains: make(map[TaskType][]string, len(chains)),
		now:    time.Now,
		logger: log.Named("selector"),
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model descriptor without id")
		}
		if _, dup := s.models[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model descriptor %q", m.ID)
		}
		s.models[m.ID] = m
		s.usage[m.ID] = &Usage{LastResetMinute: now, LastResetDay: now.Format(dayLayout)}
	}
	for task, chain := range chains {
		s.chains[task] = append([]string(nil), chain...)
	}
	return s, nil
}

// Classify returns the task type of the most recent message.
func (s *Selector) Classify(history []model.Message) TaskType {
	return Classify(history)
}

// FallbackChain returns the ordered models for task that are still under their daily quota.
func (s *Selector) FallbackChain(task TaskType) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, ok := s.chains[task]
	if !ok {
		chain = s.chains[TaskChat]
	}

	out := make([]string, 0, len(chain))
	for _, id := range chain {
		desc, known := s.models[id]
		if !known {
			continue
		}
		if s.usage[id].UsedRPD >= desc.RPD {
			continue
		}
		out = append(out, id)
	}
	return out
}

// UpdateUsage records a successful completion against modelID.
func (s *Selector) UpdateUsage(modelID string, tokens int) {
	s.mu.Lock()
	u, ok := s.usage[modelID]
	if !ok {
		s.mu.Unlock()
		return
	}
	u.UsedRPM++
	u.UsedRPD++
	u.UsedTPM += tokens
	rpm, tpm, rpd := u.UsedRPM, u.UsedTPM, u.UsedRPD
	s.mu.Unlock()

	metrics.SetModelUsage(modelID, rpm, tpm, rpd)
}

// Reset zeroes the per-minute counters and, on a new calendar day, the daily counter.
func (s *Selector) Reset(now time.Time) {
	day := now.Format(dayLayout)

	s.mu.Lock()
	for _, u := range s.usage {
		u.UsedRPM = 0
		u.UsedTPM = 0
		u.LastResetMinute = now
		if u.LastResetDay != day {
			u.UsedRPD = 0
			u.LastResetDay = day
		}
	}
	s.mu.Unlock()

	for _, mu := range s.Snapshot() {
		metrics.SetModelUsage(mu.ID, mu.UsedRPM, mu.UsedTPM, mu.UsedRPD)
	}
}

// Snapshot returns the counters of every model sorted by id.
func (s *Selector) Snapshot() []ModelUsage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ModelUsage, 0, len(s.models))
	for id, desc := range s.models {
		out = append(out, ModelUsage{ModelDescriptor: desc, Usage: *s.usage[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start schedules the periodic reset sweep.
func (s *Selector) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(
		cron.WithLogger(s.logger.Cron()),
		cron.WithChain(cron.Recover(s.logger.Cron())),
	)
	if _, err := c.AddFunc(ResetSpec, func() { s.Reset(s.now()) }); err != nil {
		return fmt.Errorf("failed to schedule usage reset: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("usage reset scheduled", zap.String("spec", ResetSpec), zap.Int("models", len(s.models)))
	return nil
}

// Stop halts the reset sweep.
func (s *Selector) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
