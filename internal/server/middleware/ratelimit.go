package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimitByIP applies per-IP rate limiting for unauthenticated
// endpoints (the websocket accept path and health probes). Uses chi's
// RealIP middleware value via r.RemoteAddr. Stale entries are cleaned
// up every 10 minutes.
func RateLimitByIP(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := newLimiterSet(ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lim := limiters.limiterFor(r.RemoteAddr)
			if !lim.Allow() {
				http.Error(w, `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByClient applies per-client rate limiting on authenticated
// API routes. Requests without a client id in context pass through;
// the websocket path enforces its own quotas.
func RateLimitByClient(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := newLimiterSet(ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, ok := ClientIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			lim := limiters.limiterFor(clientID)
			if !lim.Allow() {
				http.Error(w, `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type limiterSet struct {
	mu                sync.Mutex
	limiters          map[string]*keyedLimiter
	requestsPerSecond float64
	burst             int
}

func newLimiterSet(ctx context.Context, requestsPerSecond float64, burst int) *limiterSet {
	ls := &limiterSet{
		limiters:          make(map[string]*keyedLimiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}

	// Background cleanup of stale limiters.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ls.mu.Lock()
				cutoff := time.Now().Add(-30 * time.Minute)
				for key, kl := range ls.limiters {
					if kl.lastAccess.Before(cutoff) {
						delete(ls.limiters, key)
					}
				}
				ls.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return ls
}

func (ls *limiterSet) limiterFor(key string) *rate.Limiter {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	kl, ok := ls.limiters[key]
	if !ok {
		kl = &keyedLimiter{
			limiter:    rate.NewLimiter(rate.Limit(ls.requestsPerSecond), ls.burst),
			lastAccess: time.Now(),
		}
		ls.limiters[key] = kl
	} else {
		kl.lastAccess = time.Now()
	}
	return kl.limiter
}
