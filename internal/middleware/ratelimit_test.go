package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/scanpulse/scanpulse/internal/cache"
)

// budgetLimiter allows a fixed number of scans per address.
type budgetLimiter struct {
	mu     sync.Mutex
	budget int
	used   map[string]int
	err    error
}

func (l *budgetLimiter) AllowScan(_ context.Context, ip string, _, _ int) (cache.RateLimitResult, error) {
	if l.err != nil {
		return cache.RateLimitResult{Allowed: true}, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used == nil {
		l.used = make(map[string]int)
	}
	if l.used[ip] >= l.budget {
		return cache.RateLimitResult{RetryAfter: 1500 * time.Millisecond}, nil
	}
	l.used[ip]++
	return cache.RateLimitResult{Allowed: true, Remaining: int64(l.budget - l.used[ip])}, nil
}

func newRateLimited(l ScanLimiter, enabled bool) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return RateLimitIP(RateLimitConfig{
		Logger:  logger,
		Limiter: l,
		Enabled: enabled,
		RPS:     1,
		Burst:   2,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
}

func scanFrom(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/Ab3dE9z", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitIP_ExhaustsPerAddress(t *testing.T) {
	t.Parallel()

	h := newRateLimited(&budgetLimiter{budget: 2}, true)

	for i := 0; i < 2; i++ {
		if rec := scanFrom(h, "203.0.113.7:4000"); rec.Code != http.StatusFound {
			t.Fatalf("scan %d: status = %d, want 302", i+1, rec.Code)
		}
	}

	rec := scanFrom(h, "203.0.113.7:4001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}

	if rec := scanFrom(h, "203.0.113.8:4000"); rec.Code != http.StatusFound {
		t.Errorf("other address: status = %d, want 302", rec.Code)
	}
}

func TestRateLimitIP_FailsOpen(t *testing.T) {
	t.Parallel()

	h := newRateLimited(&budgetLimiter{err: errors.New("redis down")}, true)
	for i := 0; i < 5; i++ {
		if rec := scanFrom(h, "203.0.113.7:4000"); rec.Code != http.StatusFound {
			t.Fatalf("scan %d: status = %d, want 302", i+1, rec.Code)
		}
	}
}

func TestRateLimitIP_Disabled(t *testing.T) {
	t.Parallel()

	h := newRateLimited(&budgetLimiter{budget: 0}, false)
	if rec := scanFrom(h, "203.0.113.7:4000"); rec.Code != http.StatusFound {
		t.Errorf("status = %d, want 302", rec.Code)
	}
}

func TestRetrySeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{200 * time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{3 * time.Second, 3},
	}
	for _, tt := range tests {
		if got := retrySeconds(tt.in); got != tt.want {
			t.Errorf("retrySeconds(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
