// Package scheduler runs deferred tasks from a durable queue file.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/metrics"
)

// TickSpec is the cron spec of the due-task sweep.
const TickSpec = "@every 1s"

// FileName is the queue file inside the data directory.
const FileName = "scheduler.json"

// Policy decides what happens to a task whose execution is interrupted.
type Policy string

const (
	// AtMostOnce removes due tasks from the queue before running them.
	AtMostOnce Policy = "at-most-once"
	// AtLeastOnce keeps due tasks in the queue, marked in flight, until they finish.
	AtLeastOnce Policy = "at-least-once"
)

// ParsePolicy maps a config value onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", AtMostOnce:
		return AtMostOnce, nil
	case AtLeastOnce:
		return AtLeastOnce, nil
	}
	return "", fmt.Errorf("unknown scheduler policy %q", s)
}

// Executor runs one due task.
type Executor interface {
	Execute(ctx context.Context, task model.ScheduledTask) error
}

// Scheduler holds the task queue and runs due tasks.
type Scheduler struct {
	path     string
	policy   Policy
	executor Executor
	logger   *logger.Logger
	now      func() time.Time

	mu    sync.Mutex
	tasks []model.ScheduledTask

	onFailure func(ctx context.Context, task model.ScheduledTask, err error)

	cronMu sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a scheduler persisting to <dataDir>/scheduler.json.
func New(dataDir string, policy Policy, executor Executor, log *logger.Logger) (*Scheduler, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if policy == "" {
		policy = AtMostOnce
	}

	return &Scheduler{
		path:     filepath.Join(dataDir, FileName),
		policy:   policy,
		executor: executor,
		logger:   log.Named("scheduler"),
		now:      time.Now,
	}, nil
}

// OnFailure installs a hook called for every task that fails.
func (s *Scheduler) OnFailure(fn func(ctx context.Context, task model.ScheduledTask, err error)) {
	s.onFailure = fn
}

// Policy returns the execution policy in effect.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Load reads the queue file. A missing file is an empty queue. Tasks left in
// flight by a previous process are offered again.
func (s *Scheduler) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read task queue: %w", err)
	}

	var tasks []model.ScheduledTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		s.logger.Warn("task queue is corrupt, starting empty", zap.Error(err))
		tasks = nil
	}

	recovered := 0
	for i := range tasks {
		if tasks[i].InFlight {
			tasks[i].InFlight = false
			recovered++
		}
	}

	s.mu.Lock()
	s.tasks = tasks
	s.mu.Unlock()
	metrics.SchedulerQueueDepth.Set(float64(len(tasks)))

	s.logger.Info("task queue loaded", zap.Int("tasks", len(tasks)), zap.Int("recovered", recovered))
	return nil
}

// AddTask appends task and persists the whole queue.
func (s *Scheduler) AddTask(task model.ScheduledTask) error {
	if task.ID == "" {
		return errors.New("task id is required")
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	task.InFlight = false

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, task)
	if err := s.saveLocked(); err != nil {
		return err
	}

	s.logger.Info("task scheduled",
		zap.String("task_id", task.ID),
		zap.String("type", task.Type),
		zap.String("conversation_id", task.ConversationID),
		zap.Time("execute_at", task.ExecuteAt),
	)
	return nil
}

// Pending returns the queued tasks that are not currently executing.
func (s *Scheduler) Pending() []model.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.InFlight {
			out = append(out, t)
		}
	}
	return out
}

// Tick executes every due task in order. When it returns, none of those tasks
// remain in the durable queue, whether they succeeded or not.
func (s *Scheduler) Tick(ctx context.Context) {
	due := s.claimDue(s.now())
	if len(due) == 0 {
		return
	}

	for _, task := range due {
		s.run(ctx, task)
		if s.policy == AtLeastOnce {
			s.release(task.ID)
		}
	}
}

func (s *Scheduler) claimDue(now time.Time) []model.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []model.ScheduledTask
	kept := s.tasks[:0:0]
	for _, t := range s.tasks {
		switch {
		case t.InFlight || !t.Due(now):
			kept = append(kept, t)
		case s.policy == AtLeastOnce:
			t.InFlight = true
			kept = append(kept, t)
			due = append(due, t)
		default:
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}

	s.tasks = kept
	if err := s.saveLocked(); err != nil {
		s.logger.Error("failed to persist task queue before execution", zap.Error(err))
	}
	return due
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tasks[:0:0]
	for _, t := range s.tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	s.tasks = kept
	if err := s.saveLocked(); err != nil {
		s.logger.Error("failed to persist task queue after execution", zap.String("task_id", id), zap.Error(err))
	}
}

func (s *Scheduler) run(ctx context.Context, task model.ScheduledTask) {
	log := s.logger.With(
		zap.String("task_id", task.ID),
		zap.String("type", task.Type),
		zap.String("conversation_id", task.ConversationID),
	)

	err := s.execute(ctx, task)
	if err != nil {
		metrics.RecordTask(task.Type, "error")
		log.Error("task failed", zap.Error(err))
		if s.onFailure != nil {
			s.onFailure(ctx, task, err)
		}
		return
	}
	metrics.RecordTask(task.Type, "ok")
	log.Info("task executed", zap.Duration("lateness", s.now().Sub(task.ExecuteAt)))
}

func (s *Scheduler) execute(ctx context.Context, task model.ScheduledTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return s.executor.Execute(ctx, task)
}

// saveLocked rewrites the queue file. The caller holds s.mu.
func (s *Scheduler) saveLocked() error {
	metrics.SchedulerQueueDepth.Set(float64(len(s.tasks)))

	tasks := s.tasks
	if tasks == nil {
		tasks = []model.ScheduledTask{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task queue: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		metrics.PersistenceErrors.WithLabelValues("scheduler").Inc()
		return fmt.Errorf("failed to write task queue: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		metrics.PersistenceErrors.WithLabelValues("scheduler").Inc()
		return fmt.Errorf("failed to replace task queue: %w", err)
	}
	return nil
}

// Start begins the one-second sweep. Call Load before it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(
		cron.WithLogger(s.logger.Cron()),
		cron.WithChain(
			cron.Recover(s.logger.Cron()),
			cron.SkipIfStillRunning(s.logger.Cron()),
		),
	)
	if _, err := c.AddFunc(TickSpec, func() { s.Tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule task sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.logger.Info("scheduler started", zap.String("policy", string(s.policy)), zap.Int("tasks", len(s.Pending())))
	return nil
}

// Stop halts the sweep and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.cronMu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.cronMu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	cancel()
	s.logger.Info("scheduler stopped")
}
