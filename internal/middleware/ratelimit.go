package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/scanpulse/scanpulse/internal/cache"
	"github.com/scanpulse/scanpulse/internal/privacy"
)

// ScanLimiter decides whether one more scan from ip is allowed.
type ScanLimiter interface {
	AllowScan(ctx context.Context, ip string, ratePerSecond, burst int) (cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for the redirect rate limiter.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter ScanLimiter
	Enabled bool
	RPS     int // tokens per second
	Burst   int
}

// RateLimitIP limits scans per client IP. Limiter errors fail open.
func RateLimitIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger.With("component", "middleware.ratelimit")
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled || cfg.Limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			result, err := cfg.Limiter.AllowScan(r.Context(), ip, cfg.RPS, cfg.Burst)
			if err != nil {
				logger.Error("rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("ip_hash", privacy.HashIP(ip)),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				retryAfter := retrySeconds(result.RetryAfter)
				logger.Warn("rate limit exceeded",
					slog.String("ip_hash", privacy.HashIP(ip)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int("retry_after_seconds", retryAfter),
					slog.String("request_id", GetRequestID(r.Context())),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
					"Rate limit exceeded. Retry after "+strconv.Itoa(retryAfter)+" seconds.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retrySeconds rounds d up to whole seconds, at least one.
func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
