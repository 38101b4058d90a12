package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/capability"
	"github.com/capitalize-ai/chat-assistant/internal/middleware"
	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

// TaskQueue is the durable scheduler queue.
type TaskQueue interface {
	Pending() []model.ScheduledTask
	AddTask(task model.ScheduledTask) error
}

// CreateTaskRequest is the body of POST /tasks. ExecuteAt wins over DelaySeconds.
type CreateTaskRequest struct {
	ConversationID string     `json:"conversation_id"`
	Type           string     `json:"type"`
	Payload        string     `json:"payload"`
	ExecuteAt      *time.Time `json:"execute_at,omitempty"`
	DelaySeconds   float64    `json:"delay_seconds,omitempty"`
}

// TaskHandler exposes the scheduler queue.
type TaskHandler struct {
	tasks  TaskQueue
	logger *logger.Logger
	now    func() time.Time
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(tasks TaskQueue, log *logger.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: log.Named("api"), now: time.Now}
}

// List handles GET /api/v1/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks := h.tasks.Pending()
	if tasks == nil {
		tasks = []model.ScheduledTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// Create handles POST /api/v1/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Type != model.TaskReminder && req.Type != model.TaskImageGeneration {
		writeError(w, http.StatusBadRequest, "type must be reminder or image_generation")
		return
	}
	if err := middleware.ValidateTaskPayload(req.Payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.now()
	executeAt := now.Add(capability.DefaultTaskDelay)
	switch {
	case req.ExecuteAt != nil:
		executeAt = *req.ExecuteAt
	case req.DelaySeconds > 0:
		executeAt = now.Add(time.Duration(req.DelaySeconds * float64(time.Second)))
	}

	task := model.ScheduledTask{
		ID:             capability.NewTaskID(now),
		ConversationID: req.ConversationID,
		Type:           req.Type,
		Payload:        req.Payload,
		ExecuteAt:      executeAt,
		CreatedAt:      now,
	}
	if err := h.tasks.AddTask(task); err != nil {
		h.logger.Error("failed to add task", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add task")
		return
	}

	writeJSON(w, http.StatusCreated, task)
}
