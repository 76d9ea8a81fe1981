package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

type object struct {
	contentType string
	data        []byte
}

// Backend implements storage.Backend with an in-memory map. It is used in
// development and tests.
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

// New creates a new in-memory backend serving URLs under baseURL.
func New(baseURL string) *Backend {
	return &Backend{
		objects: make(map[string]object),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Put stores data under key.
func (b *Backend) Put(ctx context.Context, key, contentType string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if data != nil {
		if _, err := io.Copy(&buf, data); err != nil {
			return fmt.Errorf("read upload: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = object{contentType: contentType, data: buf.Bytes()}
	return nil
}

// Remove deletes key. Removing a missing key is a no-op.
func (b *Backend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

// URL returns the public URL for key.
func (b *Backend) URL(key string) string {
	return b.baseURL + "/" + key
}

// KeyFromURL reverses URL.
func (b *Backend) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, b.baseURL+"/")
	return key, ok && key != ""
}

// Get returns the stored bytes and content type for key.
func (b *Backend) Get(key string) ([]byte, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	return obj.data, obj.contentType, ok
}

// Len returns the number of stored objects.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// ServeHTTP serves stored objects by key so development URLs resolve. Mount
// it with http.StripPrefix at the path of the base URL.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, contentType, ok := b.Get(strings.TrimPrefix(r.URL.Path, "/"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
}
