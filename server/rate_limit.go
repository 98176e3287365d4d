package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-chat-server/identity"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepAfter = 1024
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// subjectLimiter keeps one token bucket per caller subject.
type subjectLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

// newSubjectLimiter returns nil when perMinute is zero, which disables limiting.
func newSubjectLimiter(perMinute float64, burst int) *subjectLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &subjectLimiter{
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

func (l *subjectLimiter) Allow(subject string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= limiterSweepAfter {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.entries, k)
			}
		}
	}

	e, ok := l.entries[subject]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[subject] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// RateLimitMiddleware limits requests per authenticated subject. It must run after RequireAuth.
func (s *Server) RateLimitMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id, ok := identity.FromContext(r.Context())
			if !ok {
				writeJSONError(w, "unauthorized", "Missing identity", http.StatusUnauthorized)
				return
			}
			if !s.limiter.Allow(id.Subject, time.Now()) {
				s.logger.Warn().Str("caller", id.Subject).Msg("Token rate limit exceeded")
				w.Header().Set("Retry-After", "60")
				writeJSONError(w, "rate_limited", "Too many token requests", http.StatusTooManyRequests)
				return
			}
			next(w, r)
		}
	}
}
