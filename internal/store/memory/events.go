package memory

import (
	"context"
	"fmt"

	"github.com/scanpulse/scanpulse/internal/model"
)

// InsertScanEvent appends one event. Duplicate event ids are reported as not inserted.
func (s *Store) InsertScanEvent(_ context.Context, e *model.ScanEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(e), nil
}

// BulkInsertScanEvents appends events and returns how many were new.
func (s *Store) BulkInsertScanEvents(_ context.Context, events []*model.ScanEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted int64
	for _, e := range events {
		if s.insertLocked(e) {
			inserted++
		}
	}
	return inserted, nil
}

func (s *Store) insertLocked(e *model.ScanEvent) bool {
	if e.EventID != "" {
		if _, dup := s.eventIDs[e.EventID]; dup {
			return false
		}
		s.eventIDs[e.EventID] = struct{}{}
	}
	cp := *e
	cp.Timestamp = e.Timestamp.UTC()
	s.events = append(s.events, &cp)
	return true
}

// CountScans counts events of ids in window.
func (s *Store) CountScans(_ context.Context, ids []string, w model.Window) (int64, error) {
	var n int64
	s.each(ids, w, func(*model.ScanEvent) { n++ })
	return n, nil
}

// CountUniqueVisitors counts distinct known client IPs of ids in window.
func (s *Store) CountUniqueVisitors(_ context.Context, ids []string, w model.Window) (int64, error) {
	seen := make(map[string]struct{})
	s.each(ids, w, func(e *model.ScanEvent) {
		if e.ClientIP != model.Unknown {
			seen[e.ClientIP] = struct{}{}
		}
	})
	return int64(len(seen)), nil
}

// GroupByDimension counts events of ids in window per value of dim.
func (s *Store) GroupByDimension(_ context.Context, dim model.Dimension, ids []string, w model.Window) ([]model.Bucket, error) {
	if !dim.IsValid() {
		return nil, fmt.Errorf("unsupported dimension %q", dim)
	}

	counts := make(map[string]int64)
	s.each(ids, w, func(e *model.ScanEvent) { counts[e.Value(dim)]++ })

	buckets := make([]model.Bucket, 0, len(counts))
	for key, n := range counts {
		buckets = append(buckets, model.Bucket{Key: key, Count: n})
	}
	return buckets, nil
}

// GroupByLocation counts events of ids in window per city and country.
func (s *Store) GroupByLocation(_ context.Context, ids []string, w model.Window) ([]model.LocationBucket, error) {
	type acc struct {
		bucket   model.LocationBucket
		lat, lon float64
		located  int
	}
	groups := make(map[[2]string]*acc)
	s.each(ids, w, func(e *model.ScanEvent) {
		key := [2]string{e.Location.City, e.Location.Country}
		g, ok := groups[key]
		if !ok {
			g = &acc{bucket: model.LocationBucket{City: key[0], Country: key[1]}}
			groups[key] = g
		}
		g.bucket.Count++
		if e.Location.IsResolved() {
			g.lat += *e.Location.Latitude
			g.lon += *e.Location.Longitude
			g.located++
		}
	})

	buckets := make([]model.LocationBucket, 0, len(groups))
	for _, g := range groups {
		if g.located > 0 {
			lat := g.lat / float64(g.located)
			lon := g.lon / float64(g.located)
			g.bucket.Latitude = &lat
			g.bucket.Longitude = &lon
		}
		buckets = append(buckets, g.bucket)
	}
	return buckets, nil
}

// CountByDay counts events per UTC calendar day, keyed YYYY-MM-DD.
func (s *Store) CountByDay(_ context.Context, ids []string, w model.Window) (map[string]int64, error) {
	counts := make(map[string]int64)
	s.each(ids, w, func(e *model.ScanEvent) { counts[e.Timestamp.UTC().Format("2006-01-02")]++ })
	return counts, nil
}

// CountByMonth counts events per UTC calendar month, keyed YYYY-MM.
func (s *Store) CountByMonth(_ context.Context, ids []string, w model.Window) (map[string]int64, error) {
	counts := make(map[string]int64)
	s.each(ids, w, func(e *model.ScanEvent) { counts[e.Timestamp.UTC().Format("2006-01")]++ })
	return counts, nil
}

// CountByQrCode counts events of ids in window per QR code.
func (s *Store) CountByQrCode(_ context.Context, ids []string, w model.Window) (map[string]int64, error) {
	counts := make(map[string]int64, len(ids))
	s.each(ids, w, func(e *model.ScanEvent) { counts[e.QrCodeID]++ })
	return counts, nil
}

// each calls fn for every event of ids inside w while holding the read lock.
func (s *Store) each(ids []string, w model.Window, fn func(*model.ScanEvent)) {
	if len(ids) == 0 {
		return
	}
	scope := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		scope[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if _, ok := scope[e.QrCodeID]; ok && w.Contains(e.Timestamp) {
			fn(e)
		}
	}
}
