package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	s, err := New(opts, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func texts(history []model.Message) []string {
	out := make([]string, len(history))
	for i, m := range history {
		out[i] = m.Text
	}
	return out
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t, Options{Dir: dir})

	history := []model.Message{
		model.NewText(model.RoleUser, "hello"),
		model.NewText(model.RoleModel, "hi there"),
		{Role: model.RoleUser, Text: "look", Image: &model.InlineImage{MimeType: "image/jpeg", Data: []byte{0xff, 0xd8, 0x00}}},
		model.NewText(model.RoleSystem, "[System Event]: Budi reacted 👍 to a message."),
	}

	require.NoError(t, s.SaveHistory("628123@s.whatsapp.net", history).Wait())
	assert.Equal(t, history, s.LoadHistory(ctx, "628123@s.whatsapp.net", 0))

	loaded := s.LoadHistory(ctx, "628123@s.whatsapp.net", 0)
	require.NoError(t, s.SaveHistory("628123@s.whatsapp.net", loaded).Wait())
	assert.Equal(t, history, s.LoadHistory(ctx, "628123@s.whatsapp.net", 0))

	cold := newTestStore(t, Options{Dir: dir})
	assert.Equal(t, history, cold.LoadHistory(ctx, "628123@s.whatsapp.net", 0))
}

func TestPersistedRecordLayout(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, Options{Dir: dir})

	require.NoError(t, s.SaveHistory("group/1:x", []model.Message{model.NewText(model.RoleUser, "a")}).Wait())

	data, err := os.ReadFile(filepath.Join(dir, "history", "group_1_x.json"))
	require.NoError(t, err)

	var rec model.ConversationRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "group/1:x", rec.ConversationID)
	assert.Equal(t, 1, rec.MessageCount)
	assert.False(t, rec.LastUpdated.IsZero())
}

func TestAppendAtCapDropsOldest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{HistoryCap: 3})

	for i := 1; i <= 3; i++ {
		s.AppendMessage(ctx, "c", model.NewText(model.RoleUser, fmt.Sprintf("m%d", i)))
	}
	require.NoError(t, s.AppendMessage(ctx, "c", model.NewText(model.RoleUser, "m4")).Wait())

	history := s.LoadHistory(ctx, "c", 0)
	assert.Equal(t, []string{"m2", "m3", "m4"}, texts(history))
}

func TestSaveHistoryTruncatesToCap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{HistoryCap: 2})

	s.SaveHistory("c", []model.Message{
		model.NewText(model.RoleUser, "a"),
		model.NewText(model.RoleUser, "b"),
		model.NewText(model.RoleUser, "c"),
	})
	assert.Equal(t, []string{"b", "c"}, texts(s.LoadHistory(ctx, "c", 0)))
}

func TestLoadHistoryLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	s.AppendMessages(ctx, "c",
		model.NewText(model.RoleUser, "1"),
		model.NewText(model.RoleModel, "2"),
		model.NewText(model.RoleUser, "3"),
	)
	assert.Equal(t, []string{"2", "3"}, texts(s.LoadHistory(ctx, "c", 2)))
	assert.Len(t, s.LoadHistory(ctx, "c", 10), 3)
	assert.Empty(t, s.LoadHistory(ctx, "missing", 5))
}

func TestLoadHistoryReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})
	s.AppendMessage(ctx, "c", model.NewText(model.RoleUser, "original"))

	h := s.LoadHistory(ctx, "c", 0)
	h[0].Text = "mutated"

	assert.Equal(t, "original", s.LoadHistory(ctx, "c", 0)[0].Text)
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t, Options{Dir: dir})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendMessage(ctx, "busy", model.NewText(model.RoleUser, fmt.Sprintf("msg-%d", i)))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	assert.Len(t, s.LoadHistory(ctx, "busy", 0), 50)

	cold := newTestStore(t, Options{Dir: dir})
	assert.Len(t, cold.LoadHistory(ctx, "busy", 0), 50)
}

func TestMemoryAppendAndReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t, Options{Dir: dir})

	assert.Empty(t, s.LoadMemory(ctx, "c"))
	s.AppendMemory(ctx, "c", "- likes tea")
	require.NoError(t, s.AppendMemory(ctx, "c", "- lives in Bandung").Wait())

	assert.Equal(t, "- likes tea\n- lives in Bandung", s.LoadMemory(ctx, "c"))

	cold := newTestStore(t, Options{Dir: dir})
	assert.Equal(t, "- likes tea\n- lives in Bandung", cold.LoadMemory(ctx, "c"))

	require.NoError(t, cold.SaveMemory("c", "reset").Wait())
	assert.Equal(t, "reset", cold.LoadMemory(ctx, "c"))
}

func TestCorruptFileFallsBackToEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t, Options{Dir: dir})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "history", "bad.json"), []byte("{not json"), 0o644))
	assert.Empty(t, s.LoadHistory(ctx, "bad", 0))
}

func TestWriteAfterCloseFails(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SaveMemory("c", "x").Wait(), ErrClosed)
}

func TestCacheEvictionPolicies(t *testing.T) {
	fifo := newBoundedCache[int](2, EvictFIFO)
	fifo.put("a", 1)
	fifo.put("b", 2)
	fifo.get("a")
	assert.Equal(t, []string{"a"}, fifo.put("c", 3))
	assert.False(t, fifo.contains("a"))

	lru := newBoundedCache[int](2, EvictLRU)
	lru.put("a", 1)
	lru.put("b", 2)
	lru.get("a")
	assert.Equal(t, []string{"b"}, lru.put("c", 3))
	assert.True(t, lru.contains("a"))

	// updating an existing key keeps its insertion slot under fifo
	fifo.put("b", 20)
	assert.Equal(t, []string{"b"}, fifo.put("d", 4))
}

func TestEvictedHistoryReloadsFromDisk(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{CacheCapacity: 1})

	require.NoError(t, s.AppendMessage(ctx, "a", model.NewText(model.RoleUser, "from a")).Wait())
	require.NoError(t, s.AppendMessage(ctx, "b", model.NewText(model.RoleUser, "from b")).Wait())
	assert.False(t, s.history.contains("a"))

	assert.Equal(t, []string{"from a"}, texts(s.LoadHistory(ctx, "a", 0)))
}

func TestEvictionDuringPendingWriteKeepsHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{CacheCapacity: 1})

	large := strings.Repeat("x", 1<<20)
	s.AppendMessage(ctx, "a", model.NewText(model.RoleUser, large))
	s.LoadHistory(ctx, "b", 0)
	require.False(t, s.history.contains("a"))

	require.NoError(t, s.AppendMessage(ctx, "a", model.NewText(model.RoleUser, "second")).Wait())

	history := s.LoadHistory(ctx, "a", 0)
	require.Len(t, history, 2)
	assert.Equal(t, large, history[0].Text)
	assert.Equal(t, "second", history[1].Text)

	cold := newTestStore(t, Options{Dir: s.dir})
	assert.Len(t, cold.LoadHistory(ctx, "a", 0), 2)
}

func TestEvictionDuringPendingWriteKeepsMemory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{CacheCapacity: 1})

	large := strings.Repeat("m", 1<<20)
	s.AppendMemory(ctx, "a", large)
	s.LoadMemory(ctx, "b")
	require.False(t, s.memory.contains("a"))

	require.NoError(t, s.AppendMemory(ctx, "a", "second").Wait())
	assert.Equal(t, large+"\nsecond", s.LoadMemory(ctx, "a"))
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "1203630@g.us", SanitizeID("1203630@g.us"))
	assert.Equal(t, "a_b_c", SanitizeID("a/b c"))
}
