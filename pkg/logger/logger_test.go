package logger

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestNew(t *testing.T) {
	l, err := New("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestCronLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{Logger: zap.New(core)}

	cl := l.Named("scheduler").Cron()
	cl.Info("schedule", "entry", 1)
	cl.Error(errors.New("boom"), "panic", "job", "tick")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "scheduler", entries[1].LoggerName)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestNewConsoleToFile(t *testing.T) {
	path := t.TempDir() + "/out.log"
	l, err := New("warn", WithFormat("console"), WithOutput(path))
	require.NoError(t, err)

	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	l.Warn("disk almost full", zap.Int("percent", 91))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "disk almost full")
	assert.Contains(t, string(data), `"percent": 91`)
}

func TestSetGlobal(t *testing.T) {
	prev := Global()
	t.Cleanup(func() { SetGlobal(prev) })

	core, logs := observer.New(zapcore.InfoLevel)
	SetGlobal(&Logger{Logger: zap.New(core)})

	zap.L().Info("via zap")
	Global().Info("via wrapper")
	assert.Equal(t, 2, logs.Len())
}
