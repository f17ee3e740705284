package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/scanpulse/scanpulse/internal/model"
)

// dimensionColumns maps groupable dimensions to their column. Only these
// names are ever interpolated into SQL.
var dimensionColumns = map[model.Dimension]string{
	model.DimensionDevice:  "device",
	model.DimensionBrowser: "browser",
	model.DimensionOS:      "os",
}

const scanScope = `qr_code_id = ANY($1) AND scanned_at >= $2 AND scanned_at < $3`

// InsertScanEvent appends one event. Duplicate event ids are ignored and
// reported as not inserted.
func (r *Repository) InsertScanEvent(ctx context.Context, e *model.ScanEvent) (bool, error) {
	query := `
		INSERT INTO scan_events (
			id, event_id, qr_code_id, scanned_at, client_ip, user_agent, referrer,
			device, browser, os, city, country, latitude, longitude
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query, eventArgs(e)...)
	if err != nil {
		return false, fmt.Errorf("failed to insert scan event: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// BulkInsertScanEvents appends events in one round trip and returns how many
// were new.
func (r *Repository) BulkInsertScanEvents(ctx context.Context, events []*model.ScanEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO scan_events (
			id, event_id, qr_code_id, scanned_at, client_ip, user_agent, referrer,
			device, browser, os, city, country, latitude, longitude
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (event_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query, eventArgs(e)...)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for i := range events {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("batch insert event %d: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// CountScans counts events of ids in window.
func (r *Repository) CountScans(ctx context.Context, ids []string, w model.Window) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scan_events WHERE `+scanScope, ids, w.From, w.To).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count scans: %w", err)
	}
	return n, nil
}

// CountUniqueVisitors counts distinct known client IPs of ids in window.
func (r *Repository) CountUniqueVisitors(ctx context.Context, ids []string, w model.Window) (int64, error) {
	query := `
		SELECT COUNT(DISTINCT client_ip)
		FROM scan_events
		WHERE ` + scanScope + ` AND client_ip <> 'unknown'
	`

	var n int64
	if err := r.pool.QueryRow(ctx, query, ids, w.From, w.To).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unique visitors: %w", err)
	}
	return n, nil
}

// GroupByDimension counts events of ids in window per value of dim.
func (r *Repository) GroupByDimension(ctx context.Context, dim model.Dimension, ids []string, w model.Window) ([]model.Bucket, error) {
	column, ok := dimensionColumns[dim]
	if !ok {
		return nil, fmt.Errorf("unsupported dimension %q", dim)
	}

	query := fmt.Sprintf(`
		SELECT %[1]s, COUNT(*)
		FROM scan_events
		WHERE %[2]s
		GROUP BY %[1]s
	`, column, scanScope)

	rows, err := r.pool.Query(ctx, query, ids, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("failed to group by %s: %w", column, err)
	}
	buckets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Bucket, error) {
		var b model.Bucket
		err := row.Scan(&b.Key, &b.Count)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect %s buckets: %w", column, err)
	}
	return buckets, nil
}

// GroupByLocation counts events of ids in window per city and country,
// averaging the coordinates of events that have them.
func (r *Repository) GroupByLocation(ctx context.Context, ids []string, w model.Window) ([]model.LocationBucket, error) {
	query := `
		SELECT city, country, COUNT(*), AVG(latitude), AVG(longitude)
		FROM scan_events
		WHERE ` + scanScope + `
		GROUP BY city, country
	`

	rows, err := r.pool.Query(ctx, query, ids, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("failed to group by location: %w", err)
	}
	buckets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.LocationBucket, error) {
		var b model.LocationBucket
		err := row.Scan(&b.City, &b.Country, &b.Count, &b.Latitude, &b.Longitude)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect location buckets: %w", err)
	}
	return buckets, nil
}

// CountByDay counts events per UTC calendar day, keyed YYYY-MM-DD.
func (r *Repository) CountByDay(ctx context.Context, ids []string, w model.Window) (map[string]int64, error) {
	return r.countByPeriod(ctx, "YYYY-MM-DD", ids, w)
}

// CountByMonth counts events per UTC calendar month, keyed YYYY-MM.
func (r *Repository) CountByMonth(ctx context.Context, ids []string, w model.Window) (map[string]int64, error) {
	return r.countByPeriod(ctx, "YYYY-MM", ids, w)
}

func (r *Repository) countByPeriod(ctx context.Context, format string, ids []string, w model.Window) (map[string]int64, error) {
	query := `
		SELECT to_char(scanned_at AT TIME ZONE 'UTC', $4) AS bucket, COUNT(*)
		FROM scan_events
		WHERE ` + scanScope + `
		GROUP BY bucket
	`

	rows, err := r.pool.Query(ctx, query, ids, w.From, w.To, format)
	if err != nil {
		return nil, fmt.Errorf("failed to count by period: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan period count: %w", err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating period counts: %w", err)
	}
	return counts, nil
}

// CountByQrCode counts events of ids in window per QR code.
func (r *Repository) CountByQrCode(ctx context.Context, ids []string, w model.Window) (map[string]int64, error) {
	query := `
		SELECT qr_code_id, COUNT(*)
		FROM scan_events
		WHERE ` + scanScope + `
		GROUP BY qr_code_id
	`

	rows, err := r.pool.Query(ctx, query, ids, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("failed to count by qr code: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64, len(ids))
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan qr count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating qr counts: %w", err)
	}
	return counts, nil
}

func eventArgs(e *model.ScanEvent) []any {
	return []any{
		e.ID,
		nullableString(e.EventID),
		e.QrCodeID,
		e.Timestamp.UTC(),
		e.ClientIP,
		e.UserAgent,
		e.Referrer,
		e.Device,
		e.Browser,
		e.OS,
		e.Location.City,
		e.Location.Country,
		e.Location.Latitude,
		e.Location.Longitude,
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
