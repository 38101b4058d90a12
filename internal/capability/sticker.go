package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/internal/transport"
)

// StickerMaker writes stickers to transient local files.
type StickerMaker interface {
	FromText(text string) (string, error)
	FromImage(data []byte) (string, error)
}

// TextSticker turns text into a sticker.
type TextSticker struct {
	maker     StickerMaker
	messenger transport.Messenger
}

// NewTextSticker creates the create_text_sticker capability.
func NewTextSticker(maker StickerMaker, messenger transport.Messenger) *TextSticker {
	return &TextSticker{maker: maker, messenger: messenger}
}

func (c *TextSticker) Name() string { return "create_text_sticker" }

func (c *TextSticker) Declaration() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name(),
		Description: "Create a sticker showing the given text and send it to the chat.",
		Parameters: objectSchema([]string{"text"}, map[string]any{
			"text": stringProp("The text to put on the sticker, at most 500 characters."),
		}),
	}
}

func (c *TextSticker) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	text := stringArg(inv.Args, "text", "content")
	if text == "" {
		return Outcome{}, errors.New("text is required")
	}
	path, err := c.maker.FromText(text)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create sticker: %w", err)
	}
	if err := sendSticker(ctx, c.messenger, inv.Ref, path); err != nil {
		return Outcome{}, err
	}
	return Outcome{Summary: fmt.Sprintf("[Sent text sticker: %q]", text)}, nil
}

// ImageSticker turns the attached image, or a freshly generated one, into a sticker.
type ImageSticker struct {
	maker     StickerMaker
	generator ImageGenerator
	messenger transport.Messenger
}

// NewImageSticker creates the create_image_sticker capability. generator may be
// nil, in which case an attached image is required.
func NewImageSticker(maker StickerMaker, generator ImageGenerator, messenger transport.Messenger) *ImageSticker {
	return &ImageSticker{maker: maker, generator: generator, messenger: messenger}
}

func (c *ImageSticker) Name() string { return "create_image_sticker" }

func (c *ImageSticker) Declaration() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name(),
		Description: "Turn the image attached to the user's message into a sticker, or generate one from a prompt first.",
		Parameters: objectSchema(nil, map[string]any{
			"prompt": stringProp("Description of the image to generate when none is attached."),
		}),
	}
}

func (c *ImageSticker) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	data, source, err := c.source(ctx, inv)
	if err != nil {
		return Outcome{}, err
	}
	path, err := c.maker.FromImage(data)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create sticker: %w", err)
	}
	if err := sendSticker(ctx, c.messenger, inv.Ref, path); err != nil {
		return Outcome{}, err
	}
	return Outcome{Summary: fmt.Sprintf("[Sent image sticker from %s]", source)}, nil
}

func (c *ImageSticker) source(ctx context.Context, inv Invocation) ([]byte, string, error) {
	if m := inv.Media; m != nil && strings.HasPrefix(m.MimeType, "image/") && len(m.Data) > 0 {
		return m.Data, "attached image", nil
	}

	prompt := stringArg(inv.Args, "prompt", "description", "content")
	if prompt == "" || c.generator == nil {
		return nil, "", errors.New("no image to turn into a sticker")
	}
	path, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate image: %w", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read generated image: %w", err)
	}
	return data, "prompt " + prompt, nil
}

func sendSticker(ctx context.Context, messenger transport.Messenger, ref transport.MessageRef, path string) error {
	defer os.Remove(path)
	if err := messenger.ReplySticker(ctx, ref, path); err != nil {
		return fmt.Errorf("failed to send sticker: %w", err)
	}
	return nil
}
