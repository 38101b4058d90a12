// Package config loads the assistant's configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// MaxGeminiKeys is the highest numbered GEMINI_API_KEY_<n> read.
const MaxGeminiKeys = 25

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `envconfig:"PORT" default:"8080"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// NATS journal
	NATSEnabled  bool   `envconfig:"NATS_ENABLED" default:"false"`
	NATSURL      string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	NATSCAFile   string `envconfig:"NATS_CA_FILE"`
	NATSCertFile string `envconfig:"NATS_CERT_FILE"`
	NATSKeyFile  string `envconfig:"NATS_KEY_FILE"`
	NATSToken    string `envconfig:"NATS_TOKEN"`

	// Ops API auth
	JWTSecret string `envconfig:"JWT_SECRET" default:"development-secret-change-in-production"`

	// Ops API rate limiting
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// Logging and tracing
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string `envconfig:"LOG_FORMAT" default:"json"`
	TracingEnabled  bool   `envconfig:"TRACING_ENABLED" default:"false"`
	TracingEndpoint string `envconfig:"TRACING_ENDPOINT" default:"localhost:4318"`

	// Storage
	DataDir             string `envconfig:"DATA_DIR" default:"data"`
	HistoryCap          int    `envconfig:"HISTORY_CAP" default:"100000"`
	HistoryContextLimit int    `envconfig:"HISTORY_CONTEXT_LIMIT" default:"100"`
	CacheCapacity       int    `envconfig:"CACHE_CAPACITY" default:"100"`
	CacheEviction       string `envconfig:"CACHE_EVICTION" default:"lru"`

	SchedulerPolicy string `envconfig:"SCHEDULER_POLICY" default:"at-most-once"`

	// Autonomous engagement
	EngagementEnabled     bool          `envconfig:"ENGAGEMENT_ENABLED" default:"true"`
	EngagementMinInterval time.Duration `envconfig:"ENGAGEMENT_MIN_INTERVAL" default:"15m"`
	EngagementMaxInterval time.Duration `envconfig:"ENGAGEMENT_MAX_INTERVAL" default:"30m"`
	EngagementStartHour   int           `envconfig:"ENGAGEMENT_START_HOUR" default:"7"`
	EngagementEndHour     int           `envconfig:"ENGAGEMENT_END_HOUR" default:"22"`

	ReactionEnabled  bool          `envconfig:"REACTION_ENABLED" default:"true"`
	ReactionCooldown time.Duration `envconfig:"REACTION_COOLDOWN" default:"30s"`

	// Per-user limit on the chat path
	UserRateLimit     int           `envconfig:"USER_RATE_LIMIT" default:"10"`
	UserRateWindow    time.Duration `envconfig:"USER_RATE_WINDOW" default:"1m"`
	UserRateWhitelist []string      `envconfig:"USER_RATE_WHITELIST"`

	// Models and persona
	ModelsFile           string `envconfig:"MODELS_FILE"`
	BotName              string `envconfig:"BOT_NAME" default:"Chat Assistant"`
	Persona              string `envconfig:"PERSONA"`
	HelperModel          string `envconfig:"HELPER_MODEL" default:"gemini-2.5-flash-lite"`
	OpenAIHelperModel    string `envconfig:"OPENAI_HELPER_MODEL" default:"gpt-4o-mini"`
	AnthropicHelperModel string `envconfig:"ANTHROPIC_HELPER_MODEL" default:"claude-3-5-haiku-latest"`

	// Providers and image generation
	GeminiBaseURL   string `envconfig:"GEMINI_BASE_URL"`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	ImageBaseURL    string `envconfig:"IMAGE_BASE_URL" default:"https://image.pollinations.ai"`

	// Transport
	WhatsAppEnabled bool   `envconfig:"WHATSAPP_ENABLED" default:"true"`
	WhatsAppDB      string `envconfig:"WHATSAPP_DB" default:"data/whatsapp.db"`

	// GeminiAPIKeys is filled from GEMINI_API_KEY and GEMINI_API_KEY_2..25, in that order.
	GeminiAPIKeys []string `ignored:"true"`
}

// Load reads an optional .env file and then the process environment, and
// validates the result.
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is Load without validation, for tooling that needs only part of the
// configuration.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	cfg.GeminiAPIKeys = geminiKeys()
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case len(c.GeminiAPIKeys) == 0:
		return errors.New("at least one GEMINI_API_KEY is required")
	case c.EngagementMinInterval <= 0 || c.EngagementMaxInterval < c.EngagementMinInterval:
		return fmt.Errorf("invalid engagement interval %s..%s", c.EngagementMinInterval, c.EngagementMaxInterval)
	case c.EngagementStartHour < 0 || c.EngagementEndHour > 23 || c.EngagementStartHour > c.EngagementEndHour:
		return fmt.Errorf("invalid engagement hours %d..%d", c.EngagementStartHour, c.EngagementEndHour)
	case c.HistoryCap <= 0:
		return errors.New("HISTORY_CAP must be positive")
	}
	return nil
}

// HelperModels maps a provider name to the model used for helper calls on it.
func (c *Config) HelperModels() map[string]string {
	return map[string]string{
		"gemini":    c.HelperModel,
		"openai":    c.OpenAIHelperModel,
		"anthropic": c.AnthropicHelperModel,
	}
}

func geminiKeys() []string {
	var keys []string
	if k := getEnv("GEMINI_API_KEY", ""); k != "" {
		keys = append(keys, k)
	}
	for i := 2; i <= MaxGeminiKeys; i++ {
		if k := getEnv("GEMINI_API_KEY_"+strconv.Itoa(i), ""); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
