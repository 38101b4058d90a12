package sticker

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/webp"

	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

func decodeSticker(t *testing.T, path string) image.Image {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("RIFF")))
	require.Equal(t, "WEBP", string(data[8:12]))

	img, err := webp.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestFromTextWritesSquareWebP(t *testing.T) {
	m := NewMaker(t.TempDir(), logger.NewNop())

	path, err := m.FromText("Selamat pagi semuanya!")
	require.NoError(t, err)
	defer os.Remove(path)

	img := decodeSticker(t, path)
	assert.Equal(t, image.Rect(0, 0, Size, Size), img.Bounds())

	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a, "corner stays transparent")
}

func TestRenderTextRejectsBadInput(t *testing.T) {
	_, err := RenderText("   ")
	assert.Error(t, err)

	_, err = RenderText(strings.Repeat("a", MaxTextLength+1))
	assert.ErrorIs(t, err, ErrTextTooLong)

	_, err = RenderText(strings.Repeat("a", MaxTextLength))
	assert.NoError(t, err)
}

func TestWrapKeepsLinesWithinWidth(t *testing.T) {
	f, err := loadFont()
	require.NoError(t, err)
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: 48, DPI: 72})
	require.NoError(t, err)
	defer face.Close()

	width := 300
	lines := wrap(face, "the quick brown fox jumps over the lazy dog\nsupercalifragilisticexpialidocious", width)
	require.Greater(t, len(lines), 2)
	for _, line := range lines {
		assert.NotEmpty(t, line)
		assert.LessOrEqual(t, font.MeasureString(face, line).Ceil(), width, line)
	}
	squash := func(s string) string { return strings.Join(strings.Fields(s), "") }
	assert.Equal(t, squash("the quick brown fox jumps over the lazy dog supercalifragilisticexpialidocious"), squash(strings.Join(lines, " ")))
}

func TestFromImageFitsAndCenters(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			src.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	m := NewMaker(t.TempDir(), logger.NewNop())
	path, err := m.FromImage(buf.Bytes())
	require.NoError(t, err)
	defer os.Remove(path)

	img := decodeSticker(t, path)
	assert.Equal(t, image.Rect(0, 0, Size, Size), img.Bounds())

	_, _, _, top := img.At(Size/2, 10).RGBA()
	assert.Zero(t, top, "letterbox is transparent")
	r, _, _, mid := img.At(Size/2, Size/2).RGBA()
	assert.NotZero(t, mid)
	assert.Greater(t, r, uint32(0xf000))
}

func TestFromImageRejectsGarbage(t *testing.T) {
	m := NewMaker(t.TempDir(), logger.NewNop())
	_, err := m.FromImage([]byte("not an image"))
	assert.Error(t, err)
}
