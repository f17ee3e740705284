package geo

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/robfig/cron/v3"

	"github.com/scanpulse/scanpulse/internal/model"
)

// MaxMindProvider reads a GeoLite2/GeoIP2 City database.
type MaxMindProvider struct {
	path      string
	logger    *slog.Logger
	countries *CountryNames

	mu     sync.RWMutex
	reader *geoip2.Reader
}

// OpenMaxMind opens the mmdb file at path.
func OpenMaxMind(path string, logger *slog.Logger) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &MaxMindProvider{
		path:      path,
		logger:    logger.With("component", "geo.maxmind"),
		countries: NewCountryNames(),
		reader:    reader,
	}, nil
}

// Lookup resolves addr against the loaded database.
func (p *MaxMindProvider) Lookup(_ context.Context, addr netip.Addr) (model.Location, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.reader == nil {
		return model.Location{}, ErrUnavailable
	}

	record, err := p.reader.City(net.IP(addr.AsSlice()))
	if err != nil {
		return model.Location{}, fmt.Errorf("city lookup: %w", err)
	}

	loc := model.Location{
		City:    record.City.Names["en"],
		Country: record.Country.Names["en"],
	}
	if loc.Country == "" {
		loc.Country = p.countries.Name(record.Country.IsoCode)
	}
	if loc.City == "" && loc.Country == "" {
		return model.Location{}, ErrNotFound
	}
	// The database reports 0,0 with a zero radius when it has no coordinates.
	if record.Location.AccuracyRadius != 0 || record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		loc.Latitude, loc.Longitude = &lat, &lon
	}
	return loc, nil
}

// Reload reopens the database file, swapping readers atomically.
func (p *MaxMindProvider) Reload() error {
	reader, err := geoip2.Open(p.path)
	if err != nil {
		return fmt.Errorf("reload geoip database: %w", err)
	}

	p.mu.Lock()
	old := p.reader
	p.reader = reader
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	p.logger.Info("geoip database reloaded", "path", p.path)
	return nil
}

// ScheduleReload registers Reload on a cron schedule and starts the scheduler.
// Callers stop the returned scheduler on shutdown.
func (p *MaxMindProvider) ScheduleReload(schedule string) (*cron.Cron, error) {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(schedule, func() {
		if err := p.Reload(); err != nil {
			p.logger.Error("geoip reload failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid reload schedule %q: %w", schedule, err)
	}
	scheduler.Start()
	return scheduler, nil
}

// Close releases the database.
func (p *MaxMindProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader == nil {
		return nil
	}
	err := p.reader.Close()
	p.reader = nil
	return err
}
