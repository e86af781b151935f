package api

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// idempotencyCache remembers responses to POSTs carrying an
// Idempotency-Key so a replayed command is applied at most once.
type idempotencyCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*idemEntry
}

type idemEntry struct {
	done   chan struct{}
	status int
	body   []byte
	at     time.Time
}

func newIdempotencyCache(ttl time.Duration) *idempotencyCache {
	return &idempotencyCache{ttl: ttl, entries: make(map[string]*idemEntry)}
}

// claim returns the entry for key and whether the caller owns it. A
// non-owner waits on entry.done before reading the recorded response.
func (c *idempotencyCache) claim(key string, now time.Time) (*idemEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.status != 0 && now.Sub(e.at) > c.ttl {
			delete(c.entries, k)
		}
	}
	if e, ok := c.entries[key]; ok {
		return e, false
	}
	e := &idemEntry{done: make(chan struct{})}
	c.entries[key] = e
	return e, true
}

func (c *idempotencyCache) finish(key string, e *idemEntry, status int, body []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Server errors are not remembered so the client can retry.
	if status >= 500 {
		delete(c.entries, key)
		e.status = status
		e.body = body
	} else {
		e.status = status
		e.body = body
		e.at = now
	}
	close(e.done)
}

func (s *Server) idempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := userFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		cacheKey := user.UserID + "|" + r.URL.Path + "|" + key
		entry, owner := s.idem.claim(cacheKey, time.Now())
		if !owner {
			select {
			case <-entry.done:
			case <-r.Context().Done():
				writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "request cancelled")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(entry.status)
			_, _ = w.Write(entry.body)
			return
		}

		var buf bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		status := http.StatusInternalServerError
		defer func() {
			if ww.Status() != 0 {
				status = ww.Status()
			}
			s.idem.finish(cacheKey, entry, status, buf.Bytes(), time.Now())
		}()
		next.ServeHTTP(ww, r)
	})
}
