package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

// ErrNoHelper is returned when neither helper nor primary credentials exist.
var ErrNoHelper = errors.New("no credential available for helper calls")

// Helper makes single lightweight completions for decisions and rewrites.
type Helper struct {
	helpers *llm.CredentialPool
	primary *llm.CredentialPool
	models  map[string]string
	logger  *logger.Logger
}

// NewHelper creates a helper. models maps a provider name to the model id used
// with that provider.
func NewHelper(helpers, primary *llm.CredentialPool, models map[string]string, log *logger.Logger) *Helper {
	return &Helper{
		helpers: helpers,
		primary: primary,
		models:  models,
		logger:  log.Named("helper"),
	}
}

// Complete issues exactly one completion and returns its text.
func (h *Helper) Complete(ctx context.Context, messages []llm.ChatMessage, jsonMode bool) (string, error) {
	cred, ok := h.helpers.Random()
	if !ok {
		cred, ok = h.primary.First()
	}
	if !ok {
		return "", ErrNoHelper
	}

	resp, err := cred.Client.Complete(ctx, &llm.CompletionRequest{
		Model:       h.models[cred.Client.Name()],
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 1.0,
		JSONMode:    jsonMode,
	})
	if err != nil {
		h.logger.Warn("helper completion failed", zap.String("credential", cred.Name), zap.Error(err))
		return "", fmt.Errorf("helper completion via %s: %w", cred.Name, err)
	}
	if resp.Content == "" {
		return "", errEmptyResponse
	}
	return resp.Content, nil
}

// Prompt is Complete for a single user message.
func (h *Helper) Prompt(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	messages := make([]llm.ChatMessage, 0, 2)
	if system != "" {
		messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: system})
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: prompt})
	return h.Complete(ctx, messages, jsonMode)
}
