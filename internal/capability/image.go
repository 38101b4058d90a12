package capability

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
)

// ImageGenerator renders a prompt into a transient local file.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerateImage renders an image and sends it to the conversation.
type GenerateImage struct {
	generator ImageGenerator
	messenger transport.Messenger
}

// NewGenerateImage creates the generate_image capability.
func NewGenerateImage(generator ImageGenerator, messenger transport.Messenger) *GenerateImage {
	return &GenerateImage{generator: generator, messenger: messenger}
}

func (c *GenerateImage) Name() string { return "generate_image" }

func (c *GenerateImage) Declaration() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name(),
		Description: "Generate an image from a detailed English prompt and send it to the chat.",
		Parameters: objectSchema([]string{"prompt"}, map[string]any{
			"prompt": stringProp("A detailed description of the image."),
		}),
	}
}

func (c *GenerateImage) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	prompt := stringArg(inv.Args, "prompt", "description", "content")
	if prompt == "" {
		return Outcome{}, errors.New("prompt is required")
	}
	if err := c.Render(ctx, inv.Ref, prompt); err != nil {
		return Outcome{}, err
	}
	return Outcome{Summary: fmt.Sprintf("[Image generated: %s]", prompt)}, nil
}

// Render generates the image for prompt, sends it as a reply to ref and removes
// the transient file.
func (c *GenerateImage) Render(ctx context.Context, ref transport.MessageRef, prompt string) error {
	path, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("failed to generate image: %w", err)
	}
	defer os.Remove(path)

	if err := c.messenger.ReplyMedia(ctx, ref, path, prompt); err != nil {
		return fmt.Errorf("failed to send image: %w", err)
	}
	return nil
}
