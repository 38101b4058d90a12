package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-assistant/internal/selector"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "k1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 100000, cfg.HistoryCap)
	assert.Equal(t, 100, cfg.HistoryContextLimit)
	assert.Equal(t, 10, cfg.UserRateLimit)
	assert.Equal(t, time.Minute, cfg.UserRateWindow)
	assert.Equal(t, 15*time.Minute, cfg.EngagementMinInterval)
	assert.Equal(t, 30*time.Minute, cfg.EngagementMaxInterval)
	assert.Equal(t, 7, cfg.EngagementStartHour)
	assert.Equal(t, 22, cfg.EngagementEndHour)
	assert.Equal(t, 30*time.Second, cfg.ReactionCooldown)
	assert.Equal(t, "at-most-once", cfg.SchedulerPolicy)
	assert.Equal(t, "Chat Assistant", cfg.BotName)
	assert.False(t, cfg.NATSEnabled)
	assert.Equal(t, []string{"k1"}, cfg.GeminiAPIKeys)
}

func TestLoadCollectsNumberedKeys(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "k1")
	t.Setenv("GEMINI_API_KEY_2", "k2")
	t.Setenv("GEMINI_API_KEY_4", " k4 ")
	t.Setenv("GEMINI_API_KEY_25", "k25")
	t.Setenv("GEMINI_API_KEY_26", "ignored")
	t.Setenv("USER_RATE_WHITELIST", "6281,6282")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k4", "k25"}, cfg.GeminiAPIKeys)
	assert.Equal(t, []string{"6281", "6282"}, cfg.UserRateWhitelist)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GEMINI_API_KEY_3=from-file\nPORT=9090\n"), 0o600))
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("PORT", "")
	t.Setenv("GEMINI_API_KEY_3", "")
	os.Unsetenv("PORT")
	os.Unsetenv("GEMINI_API_KEY_3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, []string{"from-file"}, cfg.GeminiAPIKeys)
}

func TestLoadRequiresKey(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "ops-secret")
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "ops-secret", cfg.JWTSecret)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			GeminiAPIKeys:         []string{"k"},
			EngagementMinInterval: time.Minute,
			EngagementMaxInterval: 2 * time.Minute,
			EngagementStartHour:   7,
			EngagementEndHour:     22,
			HistoryCap:            10,
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.EngagementMaxInterval = time.Second
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.EngagementStartHour = 23
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.EngagementEndHour = 24
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.EngagementStartHour, cfg.EngagementEndHour = 0, 0
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.HistoryCap = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadModels(t *testing.T) {
	m, err := LoadModels("")
	require.NoError(t, err)
	assert.Equal(t, selector.DefaultModels(), m.Models)

	m, err = LoadModels(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, selector.DefaultChains(), m.Chains)

	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - id: fast
    rpm: 60
    tpm: 100000
    rpd: 1000
  - id: slow
    rpm: 2
    tpm: 1000
    rpd: 50
chains:
  chat: [fast, slow]
  short: [fast]
  coding: [slow, fast]
  complex: [slow]
  audio: [fast]
`), 0o644))

	m, err = LoadModels(path)
	require.NoError(t, err)
	require.Len(t, m.Models, 2)
	assert.Equal(t, selector.ModelDescriptor{ID: "fast", RPM: 60, TPM: 100000, RPD: 1000}, m.Models[0])
	assert.Equal(t, []string{"fast", "slow"}, m.Chains[selector.TaskChat])
}

func TestLoadModelsRejectsUnknownChainModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - id: a\nchains:\n  chat: [b]\n"), 0o644))
	_, err := LoadModels(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("models: [\n"), 0o644))
	_, err = LoadModels(path)
	assert.Error(t, err)
}

func TestHelperModels(t *testing.T) {
	cfg := Config{HelperModel: "g", OpenAIHelperModel: "o", AnthropicHelperModel: "a"}
	assert.Equal(t, map[string]string{"gemini": "g", "openai": "o", "anthropic": "a"}, cfg.HelperModels())
}
