package engagement

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-assistant/internal/model"
	"github.com/capitalize-ai/chat-assistant/internal/store"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
	"github.com/capitalize-ai/chat-assistant/internal/transport/transporttest"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

const group = "120363@g.us"

type scriptedPrompter struct {
	out      string
	err      error
	calls    int
	jsonMode bool
}

func (p *scriptedPrompter) Prompt(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	p.calls++
	p.jsonMode = jsonMode
	return p.out, p.err
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Options{Dir: t.TempDir()}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type loopFixture struct {
	loop     *Loop
	store    *store.Store
	rec      *transporttest.Recorder
	prompter *scriptedPrompter
	ignore   *IgnoreList
	slept    []time.Duration
}

func newLoopFixture(t *testing.T, at time.Time, answer string) *loopFixture {
	t.Helper()
	return newLoopFixtureWith(t, DefaultConfig(), at, answer)
}

func newLoopFixtureWith(t *testing.T, cfg Config, at time.Time, answer string) *loopFixture {
	t.Helper()
	ignore, err := LoadIgnoreList(t.TempDir())
	require.NoError(t, err)

	f := &loopFixture{
		store:    newStore(t),
		rec:      &transporttest.Recorder{},
		prompter: &scriptedPrompter{out: answer},
		ignore:   ignore,
	}
	f.loop = NewLoop(cfg, ignore, f.store, f.prompter, f.rec, logger.NewNop())
	f.loop.now = func() time.Time { return at }
	f.loop.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	t.Cleanup(f.loop.Stop)

	require.NoError(t, f.store.AppendMessage(context.Background(), group, model.NewText(model.RoleUser, "anyone awake?")).Wait())
	return f
}

func clockAt(hour int) time.Time {
	return time.Date(2026, 5, 1, hour, 30, 0, 0, time.Local)
}

const yes = `{"shouldChat": true, "reason": "quiet group", "message": "Morning all!"}`

func TestThinkSendsAndRecordsMessage(t *testing.T) {
	f := newLoopFixture(t, clockAt(10), yes)

	var sent []Decision
	f.loop.OnSent(func(ctx context.Context, id string, d Decision) { sent = append(sent, d) })

	assert.Equal(t, OutcomeSent, f.loop.Think(context.Background(), group))

	assert.True(t, f.prompter.jsonMode)
	assert.Equal(t, []time.Duration{2 * time.Second}, f.slept)

	ops := f.rec.Sent()
	require.Len(t, ops, 3)
	assert.Equal(t, "typing_on", ops[0].Op)
	assert.Equal(t, "typing_off", ops[1].Op)
	assert.Equal(t, "send", ops[2].Op)
	assert.Equal(t, "Morning all!", ops[2].Text)

	history := f.store.LoadHistory(context.Background(), group, 0)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleModel, history[1].Role)
	assert.Equal(t, "Morning all!", history[1].Text)
	require.Len(t, sent, 1)
	assert.Equal(t, "quiet group", sent[0].Reason)
}

func TestThinkRespectsAllowedHours(t *testing.T) {
	for _, hour := range []int{3, 6, 23} {
		f := newLoopFixture(t, clockAt(hour), yes)
		assert.Equal(t, OutcomeOffHours, f.loop.Think(context.Background(), group), "hour %d", hour)
		assert.Empty(t, f.rec.Sent())
		assert.Zero(t, f.prompter.calls)
	}

	for _, hour := range []int{7, 22} {
		f := newLoopFixture(t, clockAt(hour), yes)
		assert.Equal(t, OutcomeSent, f.loop.Think(context.Background(), group), "hour %d", hour)
	}
}

func TestMidnightOnlyWindowIsHonored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartHour, cfg.EndHour = 0, 0

	f := newLoopFixtureWith(t, cfg, clockAt(0), yes)
	assert.Equal(t, OutcomeSent, f.loop.Think(context.Background(), group))

	for _, hour := range []int{1, 10, 22} {
		f := newLoopFixtureWith(t, cfg, clockAt(hour), yes)
		assert.Equal(t, OutcomeOffHours, f.loop.Think(context.Background(), group), "hour %d", hour)
	}
}

func TestThinkSkipsIgnoredConversations(t *testing.T) {
	f := newLoopFixture(t, clockAt(10), yes)
	_, err := f.ignore.Add(group)
	require.NoError(t, err)

	assert.Equal(t, OutcomeIgnored, f.loop.Think(context.Background(), group))
	assert.Zero(t, f.prompter.calls)
}

func TestThinkDeclinesAndFailures(t *testing.T) {
	f := newLoopFixture(t, clockAt(10), `{"shouldChat": false, "reason": "busy"}`)
	assert.Equal(t, OutcomeDeclined, f.loop.Think(context.Background(), group))

	f = newLoopFixture(t, clockAt(10), `{"shouldChat": true, "message": "  "}`)
	assert.Equal(t, OutcomeDeclined, f.loop.Think(context.Background(), group))

	f = newLoopFixture(t, clockAt(10), "")
	f.prompter.err = errors.New("quota")
	assert.Equal(t, OutcomeFailed, f.loop.Think(context.Background(), group))

	f = newLoopFixture(t, clockAt(10), "I don't know")
	assert.Equal(t, OutcomeFailed, f.loop.Think(context.Background(), group))
	assert.Empty(t, f.rec.Ops("send"))
}

func TestThinkWithoutHistory(t *testing.T) {
	f := newLoopFixture(t, clockAt(10), yes)
	assert.Equal(t, OutcomeNoHistory, f.loop.Think(context.Background(), "empty@g.us"))
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("```json\n{\"shouldChat\": \"true\", \"reason\": \"r\", \"message\": \" hi \"}\n```")
	require.NoError(t, err)
	assert.Equal(t, Decision{ShouldChat: true, Reason: "r", Message: "hi"}, d)

	_, err = ParseDecision("no")
	assert.Error(t, err)
}

func TestMonitoring(t *testing.T) {
	f := newLoopFixture(t, clockAt(10), yes)
	f.loop.StartMonitoring(group)
	f.loop.StartMonitoring(group)
	assert.True(t, f.loop.Monitoring(group))
	assert.Len(t, f.loop.cron.Entries(), 1)

	f.loop.StopMonitoring(group)
	assert.False(t, f.loop.Monitoring(group))
	assert.Empty(t, f.loop.cron.Entries())
}

func TestRandomDelayStaysInRange(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, r := range []float64{0, 0.5, 0.999} {
		s := randomDelay{min: 15 * time.Minute, max: 30 * time.Minute, random: func() float64 { return r }}
		next := s.Next(now)
		assert.GreaterOrEqual(t, next.Sub(now), 15*time.Minute)
		assert.LessOrEqual(t, next.Sub(now), 30*time.Minute)
	}
}

func TestIgnoreListPersists(t *testing.T) {
	dir := t.TempDir()
	l, err := LoadIgnoreList(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, IgnoreFileName))

	changed, err := l.Add("b@g.us")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = l.Add("b@g.us")
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = l.Add("a@g.us")
	require.NoError(t, err)

	reloaded, err := LoadIgnoreList(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@g.us", "b@g.us"}, reloaded.List())

	changed, err = reloaded.Remove("a@g.us")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, reloaded.Contains("a@g.us"))
	assert.True(t, reloaded.Contains("b@g.us"))
}

func TestIgnoreListRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IgnoreFileName), []byte("{"), 0o644))
	_, err := LoadIgnoreList(dir)
	assert.Error(t, err)
}

type reactorFixture struct {
	reactor  *Reactor
	rec      *transporttest.Recorder
	prompter *scriptedPrompter
	clock    time.Time
}

func newReactorFixture(t *testing.T, answer string, roll float64) *reactorFixture {
	t.Helper()
	st := newStore(t)
	require.NoError(t, st.AppendMessage(context.Background(), group, model.NewText(model.RoleUser, "I passed my exam!")).Wait())

	f := &reactorFixture{
		rec:      &transporttest.Recorder{},
		prompter: &scriptedPrompter{out: answer},
		clock:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.reactor = NewReactor(0, st, f.prompter, f.rec, logger.NewNop())
	f.reactor.now = func() time.Time { return f.clock }
	f.reactor.random = func() float64 { return roll }
	return f
}

func TestReactorProbabilities(t *testing.T) {
	tests := []struct {
		urgency string
		roll    float64
		want    bool
	}{
		{UrgencyMust, 0.79, true},
		{UrgencyMust, 0.8, false},
		{UrgencyImportant, 0.19, true},
		{UrgencyImportant, 0.5, false},
		{UrgencyOptional, 0.05, true},
		{UrgencyOptional, 0.1, false},
		{UrgencyNever, 0, false},
		{"whenever", 0, false},
	}
	for _, tt := range tests {
		f := newReactorFixture(t, `{"emoji": "🎉", "urgency": "`+tt.urgency+`"}`, tt.roll)
		got := f.reactor.Consider(context.Background(), transport.MessageRef{ConversationID: group, MessageID: "m"})
		assert.Equal(t, tt.want, got, "%s at %v", tt.urgency, tt.roll)
		if tt.want {
			require.Len(t, f.rec.Ops("react"), 1)
			assert.Equal(t, "🎉", f.rec.Ops("react")[0].Text)
		}
	}
}

func TestReactorCooldown(t *testing.T) {
	f := newReactorFixture(t, `{"emoji": "😂", "urgensi": "wajib"}`, 0)
	ref := transport.MessageRef{ConversationID: group, MessageID: "m"}

	assert.True(t, f.reactor.Consider(context.Background(), ref))
	f.clock = f.clock.Add(29 * time.Second)
	assert.False(t, f.reactor.Consider(context.Background(), ref))
	assert.Equal(t, 1, f.prompter.calls)

	f.clock = f.clock.Add(2 * time.Second)
	assert.True(t, f.reactor.Consider(context.Background(), ref))
}

func TestReactorCooldownOnlyAfterSending(t *testing.T) {
	f := newReactorFixture(t, `{"emoji": "😂", "urgency": "opsional"}`, 0.5)
	ref := transport.MessageRef{ConversationID: group, MessageID: "m"}

	assert.False(t, f.reactor.Consider(context.Background(), ref))
	f.reactor.random = func() float64 { return 0 }
	assert.True(t, f.reactor.Consider(context.Background(), ref))
}
