// Package aggregation computes scan analytics over a pre-resolved set of QR
// code ids and a time window. It never writes.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scanpulse/scanpulse/internal/model"
)

// Aggregation errors.
var (
	ErrInvalidRange     = errors.New("invalid range")
	ErrInvalidDimension = errors.New("invalid dimension")
	ErrScopeNotFound    = errors.New("scope not found")
)

// Result limits used by the dashboard views.
const (
	LocationLimit     = 10
	TopPerformerLimit = 5
	ProfileLimit      = 10
)

// Source is the read-only query port over the scan event log.
type Source interface {
	CountScans(ctx context.Context, ids []string, w model.Window) (int64, error)
	CountUniqueVisitors(ctx context.Context, ids []string, w model.Window) (int64, error)
	GroupByDimension(ctx context.Context, dim model.Dimension, ids []string, w model.Window) ([]model.Bucket, error)
	GroupByLocation(ctx context.Context, ids []string, w model.Window) ([]model.LocationBucket, error)
	CountByDay(ctx context.Context, ids []string, w model.Window) (map[string]int64, error)
	CountByMonth(ctx context.Context, ids []string, w model.Window) (map[string]int64, error)
	CountByQrCode(ctx context.Context, ids []string, w model.Window) (map[string]int64, error)
}

// TimelinePoint is one gap-filled timeline bucket.
type TimelinePoint struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Comparison is the current window against the one before it.
type Comparison struct {
	Current  int64 `json:"current"`
	Previous int64 `json:"previous"`
	Growth   int   `json:"growth"`
}

// RankedQrCode is a QR code with its scan count in a window.
type RankedQrCode struct {
	QrCodeID string `json:"qr_code_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Count    int64  `json:"count"`
}

// RankedProfile is a profile with the summed scans of its QR codes.
type RankedProfile struct {
	ProfileID string `json:"profile_id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	QrCodes   int    `json:"qr_codes"`
	Count     int64  `json:"count"`
}

// Report bundles every aggregate of one scope and range.
type Report struct {
	Range            Range                  `json:"range"`
	From             time.Time              `json:"from"`
	To               time.Time              `json:"to"`
	TotalScans       int64                  `json:"total_scans"`
	UniqueVisitors   int64                  `json:"unique_visitors"`
	Comparison       Comparison             `json:"comparison"`
	Devices          []model.Bucket         `json:"devices"`
	Browsers         []model.Bucket         `json:"browsers"`
	OperatingSystems []model.Bucket         `json:"operating_systems"`
	Locations        []model.LocationBucket `json:"locations"`
	Timeline         []TimelinePoint        `json:"timeline"`
}

// Engine runs aggregations against a Source. An empty id set never reaches it.
type Engine struct {
	source Source
	logger *slog.Logger
}

// New creates an Engine.
func New(source Source, logger *slog.Logger) *Engine {
	return &Engine{
		source: source,
		logger: logger.With("component", "aggregation"),
	}
}

// TotalScans counts scans of ids in w.
func (e *Engine) TotalScans(ctx context.Context, ids []string, w model.Window) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return e.source.CountScans(ctx, ids, w)
}

// UniqueVisitors counts distinct known client IPs of ids in w. Shared
// addresses undercount.
func (e *Engine) UniqueVisitors(ctx context.Context, ids []string, w model.Window) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return e.source.CountUniqueVisitors(ctx, ids, w)
}

// Breakdown groups scans of ids in w by dim, sorted by count desc then key
// asc. limit <= 0 keeps every bucket.
func (e *Engine) Breakdown(ctx context.Context, dim model.Dimension, ids []string, w model.Window, limit int) ([]model.Bucket, error) {
	if !dim.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDimension, dim)
	}
	if len(ids) == 0 {
		return []model.Bucket{}, nil
	}

	buckets, err := e.source.GroupByDimension(ctx, dim, ids, w)
	if err != nil {
		return nil, err
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Key < buckets[j].Key
	})
	return truncate(buckets, limit), nil
}

// Locations groups scans of ids in w by city and country, sorted by count
// desc then city and country asc.
func (e *Engine) Locations(ctx context.Context, ids []string, w model.Window, limit int) ([]model.LocationBucket, error) {
	if len(ids) == 0 {
		return []model.LocationBucket{}, nil
	}

	buckets, err := e.source.GroupByLocation(ctx, ids, w)
	if err != nil {
		return nil, err
	}
	sort.Slice(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.City != b.City {
			return a.City < b.City
		}
		return a.Country < b.Country
	})
	return truncate(buckets, limit), nil
}

// Timeline returns one point per bucket of rng at now, zeros included.
func (e *Engine) Timeline(ctx context.Context, ids []string, rng Range, now time.Time) ([]TimelinePoint, error) {
	keys := rng.Keys(now)

	var counts map[string]int64
	if len(ids) > 0 {
		var err error
		w := rng.Window(now)
		if rng.Monthly() {
			counts, err = e.source.CountByMonth(ctx, ids, w)
		} else {
			counts, err = e.source.CountByDay(ctx, ids, w)
		}
		if err != nil {
			return nil, err
		}
	}

	points := make([]TimelinePoint, len(keys))
	for i, key := range keys {
		points[i] = TimelinePoint{Key: key, Label: rng.Label(key), Count: counts[key]}
	}
	return points, nil
}

// Compare counts scans of rng at now against the preceding window.
func (e *Engine) Compare(ctx context.Context, ids []string, rng Range, now time.Time) (Comparison, error) {
	if len(ids) == 0 {
		return Comparison{}, nil
	}

	current, err := e.source.CountScans(ctx, ids, rng.Window(now))
	if err != nil {
		return Comparison{}, err
	}
	previous, err := e.source.CountScans(ctx, ids, rng.Previous(now))
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{Current: current, Previous: previous, Growth: Growth(current, previous)}, nil
}

// RankQrCodes orders qrs by scans in w, count desc then id asc. Codes without
// scans are kept with zero; counts of ids outside qrs are ignored.
func (e *Engine) RankQrCodes(ctx context.Context, qrs []*model.QrCode, w model.Window, limit int) ([]RankedQrCode, error) {
	counts, err := e.countByQrCode(ctx, qrs, w)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedQrCode, 0, len(qrs))
	for _, qr := range qrs {
		ranked = append(ranked, RankedQrCode{
			QrCodeID: qr.ID,
			Code:     qr.Code,
			Name:     qr.Name,
			Count:    counts[qr.ID],
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].QrCodeID < ranked[j].QrCodeID
	})
	return truncate(ranked, limit), nil
}

// RankProfiles orders profiles by the summed scans in w of their member QR
// codes among qrs, count desc then id asc.
func (e *Engine) RankProfiles(ctx context.Context, profiles []*model.Profile, qrs []*model.QrCode, w model.Window, limit int) ([]RankedProfile, error) {
	counts, err := e.countByQrCode(ctx, qrs, w)
	if err != nil {
		return nil, err
	}

	byProfile := make(map[string]*RankedProfile, len(profiles))
	ranked := make([]*RankedProfile, 0, len(profiles))
	for _, p := range profiles {
		rp := &RankedProfile{ProfileID: p.ID, Name: p.Name, Slug: p.Slug}
		byProfile[p.ID] = rp
		ranked = append(ranked, rp)
	}
	for _, qr := range qrs {
		if qr.ProfileID == nil {
			continue
		}
		rp, ok := byProfile[*qr.ProfileID]
		if !ok {
			continue
		}
		rp.QrCodes++
		rp.Count += counts[qr.ID]
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].ProfileID < ranked[j].ProfileID
	})

	out := make([]RankedProfile, 0, len(ranked))
	for _, rp := range truncate(ranked, limit) {
		out = append(out, *rp)
	}
	return out, nil
}

// Report computes every aggregate of ids for rng at now in parallel.
func (e *Engine) Report(ctx context.Context, ids []string, rng Range, now time.Time) (*Report, error) {
	start := time.Now()
	w := rng.Window(now)
	report := &Report{Range: rng, From: w.From, To: w.To}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		report.Comparison, err = e.Compare(gctx, ids, rng, now)
		return err
	})
	g.Go(func() (err error) {
		report.UniqueVisitors, err = e.UniqueVisitors(gctx, ids, w)
		return err
	})
	g.Go(func() (err error) {
		report.Devices, err = e.Breakdown(gctx, model.DimensionDevice, ids, w, 0)
		return err
	})
	g.Go(func() (err error) {
		report.Browsers, err = e.Breakdown(gctx, model.DimensionBrowser, ids, w, 0)
		return err
	})
	g.Go(func() (err error) {
		report.OperatingSystems, err = e.Breakdown(gctx, model.DimensionOS, ids, w, 0)
		return err
	})
	g.Go(func() (err error) {
		report.Locations, err = e.Locations(gctx, ids, w, LocationLimit)
		return err
	})
	g.Go(func() (err error) {
		report.Timeline, err = e.Timeline(gctx, ids, rng, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregate report: %w", err)
	}
	report.TotalScans = report.Comparison.Current

	e.logger.Debug("report computed",
		"range", rng,
		"qr_codes", len(ids),
		"total_scans", report.TotalScans,
		"duration", time.Since(start),
	)
	return report, nil
}

func (e *Engine) countByQrCode(ctx context.Context, qrs []*model.QrCode, w model.Window) (map[string]int64, error) {
	if len(qrs) == 0 {
		return nil, nil
	}
	return e.source.CountByQrCode(ctx, IDs(qrs), w)
}

// IDs returns the ids of qrs.
func IDs(qrs []*model.QrCode) []string {
	ids := make([]string, len(qrs))
	for i, qr := range qrs {
		ids[i] = qr.ID
	}
	return ids
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
