package storage

import (
	"context"
	"io"
)

// Storage holds normalized try-on inputs so the provider can fetch them by URL.
type Storage interface {
	// Put stores the object under key, overwriting any previous value.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Delete removes an object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns the public URL for key.
	GetURL(key string) string
}

// Config selects and configures a backend.
type Config struct {
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string

	LocalPath    string
	LocalBaseURL string
}

// New returns an S3 backend when a bucket is configured, a local one when a
// path is configured, and nil otherwise.
func New(cfg Config) (Storage, error) {
	switch {
	case cfg.S3Bucket != "":
		s, err := NewS3Storage(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case cfg.LocalPath != "":
		s, err := NewLocalStorage(cfg.LocalPath, cfg.LocalBaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}
