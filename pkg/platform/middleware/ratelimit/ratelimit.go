// Package ratelimit throttles expensive routes (document uploads) with a token
// bucket per caller. Authenticated callers are keyed by user id, others by IP.
package ratelimit

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	request "mkcompany/pkg/platform/middleware/request"
	"mkcompany/pkg/requestcontext"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one token bucket per caller key.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perSecond rate.Limit
	burst     int
	idleTTL   time.Duration
	logger    *slog.Logger
}

// New builds a limiter allowing perSecond sustained requests with the given burst.
func New(perSecond float64, burst int, logger *slog.Logger) *Limiter {
	return &Limiter{
		buckets:   make(map[string]*bucket),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		idleTTL:   5 * time.Minute,
		logger:    logger,
	}
}

func (l *Limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSecond, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than the TTL. Called from the server's
// housekeeping loop.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// Middleware rejects callers that exhausted their bucket with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := "ip:" + requestcontext.ClientIP(ctx)
		if userID := requestcontext.UserID(ctx); !userID.IsNil() {
			key = "user:" + userID.String()
		}
		if !l.allow(key, time.Now()) {
			l.logger.WarnContext(ctx, "rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
				"request_id", request.GetRequestID(ctx),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too_many_requests","error_description":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
