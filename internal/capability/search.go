package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
)

const searchSystem = "You answer web-search style questions. Be factual and concise, " +
	"mention dates when they matter, and say so when you are not sure."

// Prompter makes a single lightweight completion.
type Prompter interface {
	Prompt(ctx context.Context, system, prompt string, jsonMode bool) (string, error)
}

// Search answers a lookup query with a single completion.
type Search struct {
	prompter Prompter
}

// NewSearch creates the perform_google_search capability.
func NewSearch(prompter Prompter) *Search {
	return &Search{prompter: prompter}
}

func (c *Search) Name() string { return "perform_google_search" }

func (c *Search) Declaration() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name(),
		Description: "Look up current or factual information the assistant does not know.",
		Parameters: objectSchema([]string{"query"}, map[string]any{
			"query": stringProp("The search query."),
		}),
	}
}

func (c *Search) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	query := stringArg(inv.Args, "query", "q", "prompt")
	if query == "" {
		return Outcome{}, errors.New("query is required")
	}

	answer, err := c.prompter.Prompt(ctx, searchSystem, query, false)
	if err != nil {
		return Outcome{}, fmt.Errorf("search failed: %w", err)
	}
	return Outcome{
		Reply:   answer,
		Summary: fmt.Sprintf("[Searched: %s]", query),
	}, nil
}
