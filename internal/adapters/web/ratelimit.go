package web

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"wholesale-fulfillment/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter is a fixed-window request limiter backed by redis. Keys are per
// authenticated actor, or per remote address when no actor is present.
// Redis failures fail open and are logged.
type RateLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	logger *logrus.Logger
}

// NewRateLimiter returns nil when client is nil or limit is not positive,
// which Middleware treats as "no limiting".
func NewRateLimiter(client redis.Cmdable, limit int, window time.Duration, logger *logrus.Logger) *RateLimiter {
	if client == nil || limit <= 0 {
		return nil
	}
	return &RateLimiter{client: client, limit: int64(limit), window: window, logger: logger}
}

func (rl *RateLimiter) key(r *http.Request) string {
	if actor, ok := actorFromContext(r.Context()); ok {
		return fmt.Sprintf("fulfillment:rate:user:%d", actor.ID)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "fulfillment:rate:ip:" + host
}

// Middleware enforces the limit. A nil receiver passes every request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := rl.key(r)

		pipe := rl.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rl.window)
		if _, err := pipe.Exec(ctx); err != nil {
			config.LogError(rl.logger, "web", "RateLimiter.Middleware", "redis pipeline failed; allowing request", key, err)
			next.ServeHTTP(w, r)
			return
		}

		count := incr.Val()
		remaining := rl.limit - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if count > rl.limit {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, r, "too many requests", "RATE_LIMITED", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
