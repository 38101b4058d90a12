package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/internal/model"
)

// DefaultTaskDelay applies when the model omits the delay.
const DefaultTaskDelay = 10 * time.Second

// TaskAdder enqueues deferred tasks.
type TaskAdder interface {
	AddTask(task model.ScheduledTask) error
}

// ScheduleTask enqueues a reminder or a deferred image generation.
type ScheduleTask struct {
	tasks TaskAdder
	now   func() time.Time
}

// NewScheduleTask creates the schedule_task capability.
func NewScheduleTask(tasks TaskAdder) *ScheduleTask {
	return &ScheduleTask{tasks: tasks, now: time.Now}
}

func (c *ScheduleTask) Name() string { return "schedule_task" }

func (c *ScheduleTask) Declaration() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name(),
		Description: "Schedule something to happen later: a reminder message or an image generation.",
		Parameters: objectSchema([]string{"type", "content", "delay_seconds"}, map[string]any{
			"type": map[string]any{
				"type":        "string",
				"enum":        []string{model.TaskReminder, model.TaskImageGeneration},
				"description": "What to do when the time comes.",
			},
			"content": stringProp("The reminder text, or the image prompt."),
			"delay_seconds": map[string]any{
				"type":        "number",
				"description": "How many seconds from now the task should run.",
			},
		}),
	}
}

func (c *ScheduleTask) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	taskType := strings.ToLower(stringArg(inv.Args, "type", "task_type"))
	if taskType == "" {
		taskType = model.TaskReminder
	}
	if taskType != model.TaskReminder && taskType != model.TaskImageGeneration {
		return Outcome{}, fmt.Errorf("unsupported task type %q", taskType)
	}

	content := stringArg(inv.Args, "content", "text", "prompt", "message")
	if content == "" {
		return Outcome{}, errors.New("content is required")
	}

	delay := DefaultTaskDelay
	if secs, ok := numberArg(inv.Args, "delay_seconds", "delay", "seconds"); ok && secs > 0 {
		delay = time.Duration(secs * float64(time.Second))
	}

	now := c.now()
	task := model.ScheduledTask{
		ID:             NewTaskID(now),
		ConversationID: inv.ConversationID,
		Type:           taskType,
		Payload:        content,
		ExecuteAt:      now.Add(delay),
		CreatedAt:      now,
	}
	if err := c.tasks.AddTask(task); err != nil {
		return Outcome{}, fmt.Errorf("failed to schedule task: %w", err)
	}

	reply := fmt.Sprintf("Okay, I'll remind you in %s.", humanDelay(delay))
	if taskType == model.TaskImageGeneration {
		reply = fmt.Sprintf("Okay, I'll make that image in %s.", humanDelay(delay))
	}
	return Outcome{
		Reply:   reply,
		Summary: fmt.Sprintf("[Task scheduled: %s in %s]", taskType, humanDelay(delay)),
	}, nil
}

// NewTaskID returns an id of the form task_<unix ms>_<random>.
func NewTaskID(now time.Time) string {
	return fmt.Sprintf("task_%d_%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}

func humanDelay(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Round(time.Second)/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute)/time.Minute))
	default:
		return d.Round(time.Minute).String()
	}
}
