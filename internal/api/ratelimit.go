package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"altanian/internal/metrics"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// playerLimiter keeps one token bucket per player. A non-positive rate
// disables limiting.
type playerLimiter struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newPlayerLimiter(rps float64, burst int) *playerLimiter {
	if burst < 1 {
		burst = 1
	}
	return &playerLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

func (p *playerLimiter) allow(userID string, now time.Time) bool {
	if p.rps <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastSweep) > limiterIdleTTL {
		for id, e := range p.entries {
			if now.Sub(e.seen) > limiterIdleTTL {
				delete(p.entries, id)
			}
		}
		p.lastSweep = now
	}
	e, ok := p.entries[userID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(p.rps, p.burst)}
		p.entries[userID] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		if !s.limiter.allow(user.UserID, time.Now()) {
			metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
