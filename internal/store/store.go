// Package store keeps conversation history and memory in a bounded cache
// mirrored to one JSON file per conversation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/metrics"
)

const (
	historyDir = "history"
	memoryDir  = "memory"
)

// DefaultHistoryCap is the largest number of messages kept per conversation.
const DefaultHistoryCap = 100000

// ErrClosed is returned by writes issued after Close.
var ErrClosed = errors.New("store: closed")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9@.-]`)

// Options configures a Store.
type Options struct {
	Dir           string
	HistoryCap    int
	CacheCapacity int
	Eviction      Eviction
}

// Store is the conversation and memory store.
type Store struct {
	dir        string
	historyCap int
	logger     *logger.Logger
	now        func() time.Time

	history *boundedCache[[]model.Message]
	memory  *boundedCache[string]

	convLocks *keyedMutex
	fileLocks *keyedMutex

	seqMu   sync.Mutex
	seq     map[string]uint64
	written map[string]uint64
	pending map[string]*Write

	wg       sync.WaitGroup
	closeMu  sync.RWMutex
	isClosed bool
}

// New creates the store and its directories.
func New(opts Options, log *logger.Logger) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("store directory is required")
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = DefaultHistoryCap
	}
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = 100
	}
	if opts.Eviction == "" {
		opts.Eviction = EvictFIFO
	}

	for _, sub := range []string{historyDir, memoryDir} {
		if err := os.MkdirAll(filepath.Join(opts.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}

	return &Store{
		dir:        opts.Dir,
		historyCap: opts.HistoryCap,
		logger:     log.Named("store"),
		now:        time.Now,
		history:    newBoundedCache[[]model.Message](opts.CacheCapacity, opts.Eviction),
		memory:     newBoundedCache[string](opts.CacheCapacity, opts.Eviction),
		convLocks:  newKeyedMutex(),
		fileLocks:  newKeyedMutex(),
		seq:        make(map[string]uint64),
		written:    make(map[string]uint64),
		pending:    make(map[string]*Write),
	}, nil
}

// SanitizeID maps a conversation id onto a safe file name.
func SanitizeID(id string) string {
	return unsafeChars.ReplaceAllString(id, "_")
}

// HistoryCap returns the per-conversation message cap.
func (s *Store) HistoryCap() int {
	return s.historyCap
}

// LoadHistory returns the most recent limit messages; limit <= 0 returns all of them.
func (s *Store) LoadHistory(ctx context.Context, conversationID string, limit int) []model.Message {
	release := s.convLocks.lock(conversationID)
	history := s.residentHistory(conversationID)
	release()

	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return model.Clone(history)
}

// SaveHistory replaces the history of a conversation. The cache is updated before
// returning; the disk write proceeds in the background.
func (s *Store) SaveHistory(conversationID string, history []model.Message) *Write {
	release := s.convLocks.lock(conversationID)
	defer release()
	return s.storeHistory(conversationID, model.Clone(history))
}

// AppendMessage adds one message to the end of a conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg model.Message) *Write {
	return s.AppendMessages(ctx, conversationID, msg)
}

// AppendMessages adds messages in order and persists the result once.
func (s *Store) AppendMessages(ctx context.Context, conversationID string, msgs ...model.Message) *Write {
	return s.UpdateHistory(ctx, conversationID, func(history []model.Message) []model.Message {
		return append(history, model.Clone(msgs)...)
	})
}

// UpdateHistory runs fn on the current history under the conversation lock and
// stores its result.
func (s *Store) UpdateHistory(ctx context.Context, conversationID string, fn func([]model.Message) []model.Message) *Write {
	release := s.convLocks.lock(conversationID)
	defer release()

	current := s.residentHistory(conversationID)
	next := make([]model.Message, len(current), len(current)+1)
	copy(next, current)
	return s.storeHistory(conversationID, fn(next))
}

// LoadMemory returns the memory text of a conversation.
func (s *Store) LoadMemory(ctx context.Context, conversationID string) string {
	release := s.convLocks.lock(conversationID)
	defer release()
	return s.residentMemory(conversationID)
}

// SaveMemory replaces the memory text of a conversation.
func (s *Store) SaveMemory(conversationID, memory string) *Write {
	release := s.convLocks.lock(conversationID)
	defer release()
	return s.storeMemory(conversationID, memory)
}

// AppendMemory adds one line to the memory of a conversation.
func (s *Store) AppendMemory(ctx context.Context, conversationID, line string) *Write {
	release := s.convLocks.lock(conversationID)
	defer release()

	memory := s.residentMemory(conversationID)
	if memory != "" {
		memory += "\n"
	}
	return s.storeMemory(conversationID, memory+line)
}

// Close waits for in-flight writes and rejects later ones.
func (s *Store) Close() error {
	s.closeMu.Lock()
	s.isClosed = true
	s.closeMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Store) residentHistory(conversationID string) []model.Message {
	if h, ok := s.history.get(conversationID); ok {
		return h
	}

	path := s.historyPath(conversationID)
	s.awaitPending(path)

	var rec model.ConversationRecord
	if !s.readJSON(path, &rec) {
		rec.History = []model.Message{}
	}
	history := truncate(rec.History, s.historyCap)
	s.cacheHistory(conversationID, history)
	return history
}

func (s *Store) residentMemory(conversationID string) string {
	if m, ok := s.memory.get(conversationID); ok {
		return m
	}

	path := s.memoryPath(conversationID)
	s.awaitPending(path)

	var rec model.MemoryRecord
	s.readJSON(path, &rec)
	s.cacheMemory(conversationID, rec.Memory)
	return rec.Memory
}

func (s *Store) storeHistory(conversationID string, history []model.Message) *Write {
	history = truncate(history, s.historyCap)
	s.cacheHistory(conversationID, history)

	return s.persist("history", s.historyPath(conversationID), model.ConversationRecord{
		ConversationID: conversationID,
		History:        history,
		MessageCount:   len(history),
		LastUpdated:    s.now(),
	})
}

func (s *Store) storeMemory(conversationID, memory string) *Write {
	s.cacheMemory(conversationID, memory)

	return s.persist("memory", s.memoryPath(conversationID), model.MemoryRecord{
		ConversationID: conversationID,
		Memory:         memory,
		LastUpdated:    s.now(),
	})
}

func (s *Store) cacheHistory(conversationID string, history []model.Message) {
	for _, evicted := range s.history.put(conversationID, history) {
		s.logger.Debug("history evicted from cache", zap.String("conversation_id", evicted))
	}
	metrics.CachedConversations.WithLabelValues("history").Set(float64(s.history.len()))
}

func (s *Store) cacheMemory(conversationID, memory string) {
	s.memory.put(conversationID, memory)
	metrics.CachedConversations.WithLabelValues("memory").Set(float64(s.memory.len()))
}

// persist writes record to path in the background. Writes to the same path are
// sequenced so an older snapshot never replaces a newer one.
func (s *Store) persist(kind, path string, record any) *Write {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.isClosed {
		return completedWrite(ErrClosed)
	}

	w := newWrite()
	s.seqMu.Lock()
	s.seq[path]++
	seq := s.seq[path]
	s.pending[path] = w
	s.seqMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.writeFile(path, seq, record)
		s.seqMu.Lock()
		if s.pending[path] == w {
			delete(s.pending, path)
		}
		s.seqMu.Unlock()
		if err != nil {
			metrics.PersistenceErrors.WithLabelValues(kind).Inc()
			s.logger.Error("failed to persist record",
				zap.String("kind", kind),
				zap.String("path", path),
				zap.Error(err),
			)
		}
		w.finish(err)
	}()
	return w
}

// awaitPending blocks until the latest write issued for path has finished, so a
// cache miss never reads a file that an in-flight write is about to replace.
func (s *Store) awaitPending(path string) {
	s.seqMu.Lock()
	w := s.pending[path]
	s.seqMu.Unlock()
	if w != nil {
		<-w.Done()
	}
}

func (s *Store) writeFile(path string, seq uint64, record any) error {
	release := s.fileLocks.lock(path)
	defer release()

	s.seqMu.Lock()
	stale := seq <= s.written[path]
	s.seqMu.Unlock()
	if stale {
		return nil
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	s.seqMu.Lock()
	s.written[path] = seq
	s.seqMu.Unlock()
	return nil
}

// readJSON decodes path into v. Missing or unreadable files leave v untouched.
func (s *Store) readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read record", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("failed to decode record", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) historyPath(conversationID string) string {
	return filepath.Join(s.dir, historyDir, SanitizeID(conversationID)+".json")
}

func (s *Store) memoryPath(conversationID string) string {
	return filepath.Join(s.dir, memoryDir, SanitizeID(conversationID)+".json")
}

// truncate keeps the newest max messages.
func truncate(history []model.Message, max int) []model.Message {
	if max > 0 && len(history) > max {
		return history[len(history)-max:]
	}
	return history
}
