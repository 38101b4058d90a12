package imagegen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

func TestDimensionsFor(t *testing.T) {
	tests := []struct {
		prompt string
		want   Dimensions
	}{
		{"a wide mountain panorama", Dimensions{3840, 2160, Landscape}},
		{"Selfie of a cat", Dimensions{2160, 3840, Portrait}},
		{"a red apple", Dimensions{3840, 3840, Square}},
		{"portrait in a wide field", Dimensions{3840, 3840, Square}},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, DimensionsFor(tt.prompt))
		})
	}
}

type stubEnhancer struct {
	out string
	err error
}

func (s stubEnhancer) Prompt(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	return s.out, s.err
}

func TestGenerateWritesImageFile(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{
			"width":  r.URL.Query().Get("width"),
			"height": r.URL.Query().Get("height"),
			"model":  r.URL.Query().Get("model"),
			"nologo": r.URL.Query().Get("nologo"),
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG fake"))
	}))
	defer srv.Close()

	g := New(srv.URL, logger.NewNop(), WithTempDir(t.TempDir()), WithEnhancer(stubEnhancer{out: "a detailed city skyline"}))
	path, err := g.Generate(context.Background(), "cityscape at night")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake", string(data))
	assert.Equal(t, "/prompt/a detailed city skyline", gotPath)
	assert.Equal(t, map[string]string{"width": "3840", "height": "2160", "model": "flux", "nologo": "true"}, gotQuery)
}

func TestGenerateFallsBackToOriginalPrompt(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("img"))
	}))
	defer srv.Close()

	g := New(srv.URL, logger.NewNop(), WithTempDir(t.TempDir()), WithEnhancer(stubEnhancer{err: errors.New("quota")}))
	_, err := g.Generate(context.Background(), "apple")
	require.NoError(t, err)
	assert.Equal(t, "/prompt/apple", gotPath)
}

func TestGenerateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dir := t.TempDir()
	g := New(srv.URL, logger.NewNop(), WithTempDir(dir))

	_, err := g.Generate(context.Background(), "apple")
	assert.Error(t, err)

	_, err = g.Generate(context.Background(), "  ")
	assert.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
