package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

// ReminderSuffix marks reminders sent by the scheduler.
const ReminderSuffix = "\n\n> Automatic reminder"

const reminderSystem = "Rewrite the reminder below as a short, friendly chat message addressed to the person " +
	"who asked for it. Keep the original language. Reply with the message only."

// ErrUnknownTaskType is returned for tasks the runner cannot execute.
var ErrUnknownTaskType = errors.New("unknown task type")

// Prompter makes a single lightweight completion.
type Prompter interface {
	Prompt(ctx context.Context, system, prompt string, jsonMode bool) (string, error)
}

// ImageRenderer produces an image for a prompt and delivers it to ref.
type ImageRenderer interface {
	Render(ctx context.Context, ref transport.MessageRef, prompt string) error
}

// Runner executes reminders and deferred image generations.
type Runner struct {
	messenger transport.Messenger
	prompter  Prompter
	images    ImageRenderer
	logger    *logger.Logger
}

// NewRunner creates the task executor.
func NewRunner(messenger transport.Messenger, prompter Prompter, images ImageRenderer, log *logger.Logger) *Runner {
	return &Runner{
		messenger: messenger,
		prompter:  prompter,
		images:    images,
		logger:    log.Named("tasks"),
	}
}

// Execute implements Executor.
func (r *Runner) Execute(ctx context.Context, task model.ScheduledTask) error {
	switch task.Type {
	case model.TaskReminder:
		return r.remind(ctx, task)
	case model.TaskImageGeneration:
		if r.images == nil {
			return errors.New("image generation is not configured")
		}
		return r.images.Render(ctx, transport.MessageRef{ConversationID: task.ConversationID}, task.Payload)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTaskType, task.Type)
	}
}

func (r *Runner) remind(ctx context.Context, task model.ScheduledTask) error {
	text := task.Payload
	if r.prompter != nil {
		humanized, err := r.prompter.Prompt(ctx, reminderSystem, task.Payload, false)
		switch {
		case err != nil:
			r.logger.Warn("reminder not humanized, sending raw text", zap.String("task_id", task.ID), zap.Error(err))
		case strings.TrimSpace(humanized) != "":
			text = strings.TrimSpace(humanized)
		}
	}

	if err := r.messenger.Send(ctx, task.ConversationID, text+ReminderSuffix, nil); err != nil {
		return fmt.Errorf("failed to send reminder: %w", err)
	}
	return nil
}
