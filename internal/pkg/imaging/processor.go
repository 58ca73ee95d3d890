package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
)

// MaxFileSize in bytes (10MB)
const MaxFileSize int64 = 10 * 1024 * 1024

var (
	ErrTooLarge    = errors.New("image exceeds size limit")
	ErrUnsupported = errors.New("unsupported image format")
)

// Normalized is an upload re-encoded as JPEG within the configured bounds.
type Normalized struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// DataURI encodes the image inline for providers without object storage.
func (n *Normalized) DataURI() string {
	return "data:" + n.ContentType + ";base64," + base64.StdEncoding.EncodeToString(n.Data)
}

// Config for image processing
type Config struct {
	MaxWidth  int // default 1024
	MaxHeight int // default 1024
	Quality   int // JPEG quality 1-100 (default 90)
}

// DefaultConfig returns default processing config
func DefaultConfig() Config {
	return Config{
		MaxWidth:  1024,
		MaxHeight: 1024,
		Quality:   90,
	}
}

// Processor handles image processing
type Processor struct {
	config Config
}

// NewProcessor creates image processor
func NewProcessor(config Config) *Processor {
	if config.MaxWidth <= 0 || config.MaxHeight <= 0 || config.Quality <= 0 {
		config = DefaultConfig()
	}
	return &Processor{config: config}
}

// Normalize decodes a JPEG or PNG upload, applies EXIF orientation, fits it
// inside MaxWidth x MaxHeight and re-encodes it as JPEG.
func (p *Processor) Normalize(reader io.Reader) (*Normalized, error) {
	data, err := io.ReadAll(io.LimitReader(reader, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrTooLarge
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupported
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	if img.Bounds().Dx() > p.config.MaxWidth || img.Bounds().Dy() > p.config.MaxHeight {
		img = imaging.Fit(img, p.config.MaxWidth, p.config.MaxHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.config.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Normalized{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}, nil
}
