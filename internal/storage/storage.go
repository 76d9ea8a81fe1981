package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/akshay-ctas/server/pkg/errors"
)

// KeyPrefix is the object key prefix for product images.
const KeyPrefix = "products/"

// File is one blob to upload.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        io.Reader
}

// Blob stores product images and hands back their public URLs. Every failure
// is a storage error (apperrors.ErrStorage); callers never retry.
type Blob interface {
	Upload(ctx context.Context, f File) (string, error)

	// UploadMany uploads files concurrently and returns URLs in input order.
	// On failure the files already uploaded are removed.
	UploadMany(ctx context.Context, files []File) ([]string, error)

	Delete(ctx context.Context, url string) error
	DeleteMany(ctx context.Context, urls []string) error
}

// Backend is an object store addressed by key.
type Backend interface {
	Put(ctx context.Context, key, contentType string, data io.Reader) error
	Remove(ctx context.Context, key string) error
	URL(key string) string
	KeyFromURL(url string) (string, bool)
}

// Config tunes a Store.
type Config struct {
	// MaxConcurrency bounds parallel uploads and deletes in the *Many calls.
	MaxConcurrency int
	Breaker        BreakerConfig
}

// DefaultConfig returns the defaults used by the service.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Breaker:        DefaultBreakerConfig("blob-storage"),
	}
}

// Store implements Blob on top of a Backend guarded by a circuit breaker.
type Store struct {
	backend     Backend
	breaker     *breaker
	concurrency int
	logger      *slog.Logger
}

// New creates a Store around backend.
func New(backend Backend, cfg Config, logger *slog.Logger) *Store {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Store{
		backend:     backend,
		breaker:     newBreaker(cfg.Breaker, logger),
		concurrency: cfg.MaxConcurrency,
		logger:      logger,
	}
}

// Upload stores f under a fresh key and returns its public URL.
func (s *Store) Upload(ctx context.Context, f File) (string, error) {
	key := NewKey(f.Name, f.ContentType)
	err := s.breaker.run(func() error {
		return s.backend.Put(ctx, key, f.ContentType, f.Data)
	})
	if err != nil {
		return "", apperrors.Storage("upload", fmt.Errorf("put %s: %w", key, err))
	}
	return s.backend.URL(key), nil
}

// UploadMany uploads files with bounded concurrency.
func (s *Store) UploadMany(ctx context.Context, files []File) ([]string, error) {
	urls := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, f := range files {
		g.Go(func() error {
			url, err := s.Upload(gctx, f)
			if err != nil {
				return err
			}
			urls[i] = url
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var uploaded []string
		for _, u := range urls {
			if u != "" {
				uploaded = append(uploaded, u)
			}
		}
		s.Cleanup(context.WithoutCancel(ctx), uploaded)
		return nil, err
	}
	return urls, nil
}

// Delete removes the blob behind url. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, url string) error {
	key, ok := s.backend.KeyFromURL(url)
	if !ok {
		return apperrors.Storage("delete", fmt.Errorf("url %q is not served by this store", url))
	}
	err := s.breaker.run(func() error {
		return s.backend.Remove(ctx, key)
	})
	if err != nil {
		return apperrors.Storage("delete", fmt.Errorf("remove %s: %w", key, err))
	}
	return nil
}

// DeleteMany removes every url, continuing past failures, and returns the
// first error.
func (s *Store) DeleteMany(ctx context.Context, urls []string) error {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, u := range urls {
		g.Go(func() error {
			return s.Delete(ctx, u)
		})
	}
	return g.Wait()
}

// Cleanup deletes urls and logs, rather than returns, any failure. Blobs
// that survive are orphans.
func (s *Store) Cleanup(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		return
	}
	if err := s.DeleteMany(ctx, urls); err != nil {
		s.logger.WarnContext(ctx, "orphaned blobs after failed cleanup",
			slog.Any("urls", urls),
			slog.String("error", err.Error()),
		)
	}
}

// NewKey returns a unique object key for an upload, keeping a sensible
// extension for the content type.
func NewKey(name, contentType string) string {
	return KeyPrefix + uuid.NewString() + extension(name, contentType)
}

func extension(name, contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return strings.ToLower(path.Ext(name))
}
