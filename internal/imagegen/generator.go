// Package imagegen renders prompts into image files through a text-to-image HTTP service.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

// DefaultBaseURL is the pollinations image endpoint.
const DefaultBaseURL = "https://image.pollinations.ai"

const enhanceSystem = "You are a prompt engineer for AI image generation. Turn the description into a detailed " +
	"prompt: keep the core concept, add lighting, composition, style and mood, add quality keywords, stay under " +
	"200 words. Output only the prompt."

// Orientation is the aspect class chosen for a prompt.
type Orientation string

const (
	Square    Orientation = "square"
	Landscape Orientation = "landscape"
	Portrait  Orientation = "portrait"
)

// Dimensions is the requested image size.
type Dimensions struct {
	Width       int
	Height      int
	Orientation Orientation
}

var (
	landscapeKeywords = []string{"landscape", "panorama", "wide", "horizon", "cityscape", "scenery", "vista", "banner", "cover", "wallpaper"}
	portraitKeywords  = []string{"portrait", "tall", "vertical", "person", "model", "standing", "selfie", "poster"}
)

// DimensionsFor picks a size from orientation hints in the prompt. Prompts with
// both or neither kind of hint are square.
func DimensionsFor(prompt string) Dimensions {
	lower := strings.ToLower(prompt)
	landscape := containsAny(lower, landscapeKeywords)
	portrait := containsAny(lower, portraitKeywords)

	switch {
	case landscape && !portrait:
		return Dimensions{Width: 3840, Height: 2160, Orientation: Landscape}
	case portrait && !landscape:
		return Dimensions{Width: 2160, Height: 3840, Orientation: Portrait}
	default:
		return Dimensions{Width: 3840, Height: 3840, Orientation: Square}
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Prompter makes a single lightweight completion.
type Prompter interface {
	Prompt(ctx context.Context, system, prompt string, jsonMode bool) (string, error)
}

// Generator fetches images and writes them to temporary files.
type Generator struct {
	client   *resty.Client
	enhancer Prompter
	tempDir  string
	logger   *logger.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithEnhancer rewrites prompts through p before rendering.
func WithEnhancer(p Prompter) Option {
	return func(g *Generator) { g.enhancer = p }
}

// WithTempDir sets where image files are written.
func WithTempDir(dir string) Option {
	return func(g *Generator) { g.tempDir = dir }
}

// New creates a generator against baseURL.
func New(baseURL string, log *logger.Logger, opts ...Option) *Generator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	g := &Generator{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(2 * time.Minute).
			SetRetryCount(1),
		logger: log.Named("imagegen"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate renders prompt and returns the path of the image file. The caller
// removes the file.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt is required")
	}

	dims := DimensionsFor(prompt)
	rendered := g.enhance(ctx, prompt)

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"width":  strconv.Itoa(dims.Width),
			"height": strconv.Itoa(dims.Height),
			"model":  "flux",
			"nologo": "true",
		}).
		Get("/prompt/" + url.PathEscape(rendered))
	if err != nil {
		return "", fmt.Errorf("image request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("image service returned %d", resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return "", errors.New("image service returned an empty body")
	}

	f, err := os.CreateTemp(g.tempDir, "image-*.png")
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close image file: %w", err)
	}

	g.logger.Info("image generated",
		zap.String("orientation", string(dims.Orientation)),
		zap.Int("bytes", len(body)),
		zap.String("path", f.Name()),
	)
	return f.Name(), nil
}

func (g *Generator) enhance(ctx context.Context, prompt string) string {
	if g.enhancer == nil {
		return prompt
	}
	out, err := g.enhancer.Prompt(ctx, enhanceSystem, prompt, false)
	if err != nil {
		g.logger.Warn("prompt enhancement failed, using original", zap.Error(err))
		return prompt
	}
	if out = strings.TrimSpace(out); out == "" {
		return prompt
	}
	return out
}
