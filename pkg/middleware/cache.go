package middleware

import (
	"fmt"
	"net/http"
)

// CacheControl marks successful GET responses as publicly cacheable for
// maxAge seconds. Handlers that set their own Cache-Control keep it.
func CacheControl(maxAge int) func(http.Handler) http.Handler {
	value := fmt.Sprintf("public, max-age=%d", maxAge)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				w = &cacheHeaderWriter{ResponseWriter: w, value: value}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// cacheHeaderWriter adds Cache-Control just before a 2xx header is sent, so
// error responses are never cached.
type cacheHeaderWriter struct {
	http.ResponseWriter
	value       string
	wroteHeader bool
}

func (c *cacheHeaderWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.wroteHeader = true
		h := c.ResponseWriter.Header()
		if status >= 200 && status < 300 && h.Get("Cache-Control") == "" {
			h.Set("Cache-Control", c.value)
		}
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *cacheHeaderWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.ResponseWriter.Write(b)
}

func (c *cacheHeaderWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
