package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/metrics"
)

const (
	replayBatch       = 50
	heartbeatInterval = 30 * time.Second
)

// StreamHandler streams the message journal over server-sent events.
type StreamHandler struct {
	journal   JournalReader
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(journal JournalReader, log *logger.Logger) *StreamHandler {
	return &StreamHandler{journal: journal, logger: log.Named("api"), heartbeat: heartbeatInterval}
}

// ReplayCompleteEvent marks the end of the replay phase.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	MessageCount int    `json:"message_count"`
}

// HeartbeatEvent keeps idle streams open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Stream handles GET /api/v1/conversations/{id}/journal/stream
// Supports ?after_sequence=N for resuming from a specific point.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	afterSequence := queryUint(r, "after_sequence")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithConversation(id)
	var mu sync.Mutex
	send := func(event string, data any) {
		mu.Lock()
		defer mu.Unlock()
		if err := sendSSEEvent(w, flusher, event, data); err != nil {
			log.Debug("failed to write SSE event", zap.Error(err))
		}
	}

	send("connected", map[string]string{"conversation_id": id})

	var (
		lastSequence = afterSequence
		replayed     int
	)
	for {
		messages, last, hasMore, err := h.journal.Messages(ctx, id, lastSequence, replayBatch)
		if err != nil {
			log.Error("failed to replay journal", zap.Error(err))
			send("error", map[string]string{"code": "replay_error", "message": "failed to replay messages"})
			return
		}
		for _, msg := range messages {
			if ctx.Err() != nil {
				return
			}
			send("message", msg)
			replayed++
		}
		if last > lastSequence {
			lastSequence = last
		}
		if !hasMore || len(messages) == 0 {
			break
		}
	}

	send("replay_complete", &ReplayCompleteEvent{LastSequence: lastSequence, MessageCount: replayed})
	log.Info("journal replay complete", zap.Int("messages_replayed", replayed), zap.Uint64("last_sequence", lastSequence))

	tailErr := make(chan error, 1)
	go func() {
		tailErr <- h.journal.Tail(ctx, id, lastSequence, func(msg model.JournalMessage) {
			send("message", msg)
		})
	}()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			<-tailErr
			log.Info("SSE client disconnected")
			return
		case err := <-tailErr:
			if err != nil {
				log.Error("journal tail failed", zap.Error(err))
				send("error", map[string]string{"code": "tail_error", "message": "live updates unavailable"})
			}
			return
		case <-heartbeat.C:
			send("heartbeat", &HeartbeatEvent{Timestamp: time.Now()})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
