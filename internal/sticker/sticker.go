// Package sticker renders text and images into 512x512 WebP stickers.
package sticker

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/HugoSmits86/nativewebp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

const (
	// Size is the edge length of a sticker in pixels.
	Size = 512
	// MaxTextLength is the longest text accepted for a text sticker, in runes.
	MaxTextLength = 500

	padding     = 32
	outline     = 3
	maxFontSize = 120.0
	minFontSize = 16.0
)

// ErrTextTooLong is returned for text stickers over MaxTextLength.
var ErrTextTooLong = fmt.Errorf("sticker text is longer than %d characters", MaxTextLength)

var loadFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(gobold.TTF)
})

// RenderText draws text centered on a transparent square, wrapped and shrunk
// until it fits.
func RenderText(text string) (*image.NRGBA, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("sticker text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return nil, ErrTextTooLong
	}

	f, err := loadFont()
	if err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	face, lines, err := fitText(f, text, Size-2*padding)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	img := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	m := face.Metrics()
	lineHeight := m.Height.Ceil()
	top := (Size-lineHeight*len(lines))/2 + m.Ascent.Ceil()
	for i, line := range lines {
		x := (Size - font.MeasureString(face, line).Ceil()) / 2
		drawOutlined(img, face, line, x, top+i*lineHeight)
	}
	return img, nil
}

// Fit scales src to fit the sticker square, keeping its aspect ratio, and
// centers it on a transparent background.
func Fit(src image.Image) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return dst
	}

	tw, th := Size, Size
	if w > h {
		th = max(1, h*Size/w)
	} else {
		tw = max(1, w*Size/h)
	}
	x0, y0 := (Size-tw)/2, (Size-th)/2
	xdraw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+tw, y0+th), src, b, xdraw.Over, nil)
	return dst
}

// Encode writes img as WebP.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, img, nil); err != nil {
		return nil, fmt.Errorf("failed to encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// Maker writes stickers to temporary files.
type Maker struct {
	tempDir string
	logger  *logger.Logger
}

// NewMaker creates a maker writing into tempDir; empty means the OS default.
func NewMaker(tempDir string, log *logger.Logger) *Maker {
	return &Maker{tempDir: tempDir, logger: log.Named("sticker")}
}

// FromText renders text and returns the path of the sticker file. The caller
// removes the file.
func (m *Maker) FromText(text string) (string, error) {
	img, err := RenderText(text)
	if err != nil {
		return "", err
	}
	return m.write("text", img)
}

// FromImage converts an encoded PNG, JPEG, GIF or WebP image and returns the
// path of the sticker file. The caller removes the file.
func (m *Maker) FromImage(data []byte) (string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	m.logger.Debug("converting image", zap.String("format", format), zap.Stringer("bounds", src.Bounds()))
	return m.write("image", Fit(src))
}

func (m *Maker) write(kind string, img image.Image) (string, error) {
	data, err := Encode(img)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(m.tempDir, "sticker-*.webp")
	if err != nil {
		return "", fmt.Errorf("failed to create sticker file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write sticker file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close sticker file: %w", err)
	}

	m.logger.Info("sticker created", zap.String("kind", kind), zap.Int("bytes", len(data)))
	return f.Name(), nil
}

func fitText(f *opentype.Font, text string, box int) (font.Face, []string, error) {
	for size := maxFontSize; ; size -= 4 {
		face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create font face: %w", err)
		}
		lines := wrap(face, text, box)
		if size <= minFontSize || len(lines)*face.Metrics().Height.Ceil() <= box {
			return face, lines, nil
		}
		face.Close()
	}
}

// wrap breaks text into lines no wider than width. Words wider than a line are
// split between runes.
func wrap(face font.Face, text string, width int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		line := ""
		for _, word := range strings.Fields(para) {
			for font.MeasureString(face, word).Ceil() > width {
				head, rest := splitToWidth(face, word, width)
				if line != "" {
					lines = append(lines, line)
					line = ""
				}
				lines = append(lines, head)
				word = rest
			}
			if word == "" {
				continue
			}

			candidate := word
			if line != "" {
				candidate = line + " " + word
			}
			if font.MeasureString(face, candidate).Ceil() <= width {
				line = candidate
				continue
			}
			lines = append(lines, line)
			line = word
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func splitToWidth(face font.Face, word string, width int) (string, string) {
	runes := []rune(word)
	n := 1
	for n < len(runes) && font.MeasureString(face, string(runes[:n+1])).Ceil() <= width {
		n++
	}
	return string(runes[:n]), string(runes[n:])
}

func drawOutlined(dst draw.Image, face font.Face, s string, x, y int) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(color.White), Face: face}
	for dx := -outline; dx <= outline; dx += outline {
		for dy := -outline; dy <= outline; dy += outline {
			if dx == 0 && dy == 0 {
				continue
			}
			d.Dot = fixed.P(x+dx, y+dy)
			d.DrawString(s)
		}
	}
	d.Src = image.NewUniform(color.Black)
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}
