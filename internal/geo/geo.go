// Package geo resolves client IP addresses to approximate locations.
// Lookups are best effort: every failure degrades to model.UnresolvedLocation.
package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/scanpulse/scanpulse/internal/metrics"
	"github.com/scanpulse/scanpulse/internal/model"
)

// DefaultTimeout bounds a single lookup when the caller does not configure one.
const DefaultTimeout = 1500 * time.Millisecond

// Provider errors.
var (
	ErrNotFound    = errors.New("no location for address")
	ErrUnavailable = errors.New("geolocation provider unavailable")
)

// Provider performs the raw lookup against a database or remote service.
type Provider interface {
	Lookup(ctx context.Context, ip netip.Addr) (model.Location, error)
}

// Locator is what the scan recorder depends on. Locate never fails.
type Locator interface {
	Locate(ctx context.Context, ip string) model.Location
}

// Guard wraps a Provider with address filtering and a bounded timeout.
type Guard struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// NewGuard creates a Locator around provider. A nil provider always yields the
// unresolved sentinel.
func NewGuard(provider Provider, timeout time.Duration, logger *slog.Logger, recorder metrics.Recorder) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Guard{
		provider: provider,
		timeout:  timeout,
		logger:   logger.With("component", "geo.guard"),
		metrics:  recorder,
	}
}

// Locate returns the best-effort location of ip.
func (g *Guard) Locate(ctx context.Context, ip string) model.Location {
	addr, ok := PublicAddr(ip)
	if !ok || g.provider == nil {
		g.metrics.IncGeoLookup("skipped")
		return model.UnresolvedLocation()
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		loc model.Location
		err error
	}
	// Buffered so the lookup goroutine never blocks after a timeout.
	done := make(chan result, 1)

	go func() {
		defer func() {
			if rvr := recover(); rvr != nil {
				done <- result{err: fmt.Errorf("provider panic: %v", rvr)}
			}
		}()
		loc, err := g.provider.Lookup(ctx, addr)
		done <- result{loc: loc, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			g.logger.Debug("geolocation failed", "error", res.err)
			g.metrics.IncGeoLookup("failed")
			return model.UnresolvedLocation()
		}
		g.metrics.IncGeoLookup("success")
		return normalize(res.loc)
	case <-ctx.Done():
		g.logger.Debug("geolocation timed out", "timeout", g.timeout)
		g.metrics.IncGeoLookup("timeout")
		return model.UnresolvedLocation()
	}
}

// PublicAddr parses ip and reports whether it is worth looking up.
// Private, loopback, link-local and unspecified addresses are rejected.
func PublicAddr(ip string) (netip.Addr, bool) {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == model.Unknown {
		return netip.Addr{}, false
	}
	// RemoteAddr style "host:port"
	if ap, err := netip.ParseAddrPort(ip); err == nil {
		ip = ap.Addr().String()
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Addr{}, false
	}
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || addr.IsMulticast() {
		return netip.Addr{}, false
	}
	return addr, true
}

// normalize fills empty names so breakdown grouping stays stable.
func normalize(loc model.Location) model.Location {
	if strings.TrimSpace(loc.City) == "" {
		loc.City = model.UnknownCategory
	}
	if strings.TrimSpace(loc.Country) == "" {
		loc.Country = model.UnknownCategory
	}
	if loc.Latitude == nil || loc.Longitude == nil {
		loc.Latitude, loc.Longitude = nil, nil
	}
	return loc
}

// NoopProvider never resolves anything.
type NoopProvider struct{}

// Lookup always reports ErrUnavailable.
func (NoopProvider) Lookup(context.Context, netip.Addr) (model.Location, error) {
	return model.Location{}, ErrUnavailable
}
