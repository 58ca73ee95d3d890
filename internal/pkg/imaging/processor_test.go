package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizeFitsLargeImage(t *testing.T) {
	p := NewProcessor(DefaultConfig())

	out, err := p.Normalize(bytes.NewReader(pngOf(t, 2048, 1024)))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Width != 1024 || out.Height != 512 {
		t.Fatalf("expected 1024x512, got %dx%d", out.Width, out.Height)
	}
	if out.ContentType != "image/jpeg" {
		t.Fatalf("expected jpeg, got %s", out.ContentType)
	}
	if !strings.HasPrefix(out.DataURI(), "data:image/jpeg;base64,") {
		t.Fatalf("unexpected data uri prefix")
	}
}

func TestNormalizeKeepsSmallImage(t *testing.T) {
	p := NewProcessor(Config{})

	out, err := p.Normalize(bytes.NewReader(pngOf(t, 300, 400)))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Width != 300 || out.Height != 400 {
		t.Fatalf("expected 300x400, got %dx%d", out.Width, out.Height)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	p := NewProcessor(DefaultConfig())
	if _, err := p.Normalize(strings.NewReader("definitely not an image")); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
