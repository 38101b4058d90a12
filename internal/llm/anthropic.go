package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is the Anthropic LLM client. It serves helper calls only,
// so tool declarations and images are not forwarded.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &AnthropicClient{
		client: client,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" || !strings.HasPrefix(model, "claude") {
		model = "claude-3-5-haiku-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	// Convert messages to Anthropic format
	turns := foldSystemMessages(req.Messages)
	if req.JSONMode && len(turns) > 0 {
		last := &turns[len(turns)-1]
		last.Content += "\n\nRespond with a single JSON object and nothing else."
	}

	messages := make([]anthropic.MessageParam, len(turns))
	for i, msg := range turns {
		messages[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(messages),
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return nil, err
	}

	// Extract content
	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}

	return &CompletionResponse{
		Content:    strings.TrimSpace(content),
		Model:      resp.Model,
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// foldSystemMessages prepends system text to the following user turn, since
// the messages endpoint only accepts user and assistant roles.
func foldSystemMessages(in []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(in))
	var pending []string
	for _, msg := range in {
		if msg.Role == RoleSystem {
			pending = append(pending, msg.Content)
			continue
		}
		role := msg.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		content := msg.Content
		if len(pending) > 0 && role == RoleUser {
			content = strings.Join(pending, "\n\n") + "\n\n" + content
			pending = nil
		}
		out = append(out, ChatMessage{Role: role, Content: content})
	}
	if len(pending) > 0 {
		out = append(out, ChatMessage{Role: RoleUser, Content: strings.Join(pending, "\n\n")})
	}
	return out
}
