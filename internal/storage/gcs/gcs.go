package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const (
	uploadTimeout = 2 * time.Minute
	deleteTimeout = 30 * time.Second
)

// Config holds the bucket and public URL settings.
type Config struct {
	Bucket string

	// CDNDomain, when set, serves objects as https://<CDNDomain>/<key>.
	CDNDomain string

	// PublicBaseURL overrides https://storage.googleapis.com, e.g. for an emulator.
	PublicBaseURL string

	// EmulatorHost points the client at a fake-gcs-server without authentication.
	EmulatorHost string
}

// Backend implements storage.Backend on a Google Cloud Storage bucket.
type Backend struct {
	client *storage.Client
	bucket string
	base   string
}

// New creates a GCS client and backend for cfg.Bucket.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if host := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"); host != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
		opts = append(opts, option.WithoutAuthentication())
		if cfg.PublicBaseURL == "" {
			cfg.PublicBaseURL = host
		}
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *storage.Client, cfg Config) *Backend {
	return &Backend{client: client, bucket: cfg.Bucket, base: publicBase(cfg)}
}

func publicBase(cfg Config) string {
	if d := strings.Trim(strings.TrimSpace(cfg.CDNDomain), "/"); d != "" {
		return "https://" + d
	}
	if b := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"); b != "" {
		return b + "/" + cfg.Bucket
	}
	return "https://storage.googleapis.com/" + cfg.Bucket
}

// Put streams data into the object at key.
func (b *Backend) Put(ctx context.Context, key, contentType string, data io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer: %w", err)
	}
	return nil
}

// Remove deletes the object at key. A missing object is not an error.
func (b *Backend) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	err := b.client.Bucket(b.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %q in bucket %q: %w", key, b.bucket, err)
	}
	return nil
}

// URL returns the public URL for key.
func (b *Backend) URL(key string) string {
	return b.base + "/" + strings.TrimLeft(key, "/")
}

// KeyFromURL reverses URL.
func (b *Backend) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, b.base+"/")
	return key, ok && key != ""
}

// Close releases the underlying client.
func (b *Backend) Close() error {
	return b.client.Close()
}
