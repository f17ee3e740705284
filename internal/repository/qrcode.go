package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/scanpulse/scanpulse/internal/model"
)

// QrCodeFilter narrows owner listings.
type QrCodeFilter struct {
	OwnerID        string
	ProfileID      string
	CampaignType   model.CampaignType
	IncludeDeleted bool
}

// PaginationCursor represents decoded cursor for pagination.
type PaginationCursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

const qrCodeColumns = `id, code, owner_id, profile_id, name, target_url, fallback_url, is_dynamic,
	campaign_type, start_date, end_date, redirect_behavior, total_scans, last_scan_at,
	deleted_at, created_at, updated_at`

// CreateQrCode inserts a new QR code.
func (r *Repository) CreateQrCode(ctx context.Context, qr *model.QrCode) error {
	query := `
		INSERT INTO qr_codes (` + qrCodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.pool.Exec(ctx, query,
		qr.ID,
		qr.Code,
		qr.OwnerID,
		qr.ProfileID,
		qr.Name,
		qr.TargetURL,
		qr.FallbackURL,
		qr.IsDynamic,
		qr.CampaignType,
		qr.StartDate,
		qr.EndDate,
		qr.RedirectBehavior,
		qr.TotalScans,
		qr.LastScanAt,
		qr.DeletedAt,
		qr.CreatedAt,
		qr.UpdatedAt,
	)
	if err != nil {
		if uniqueViolation(err) == "qr_codes_code_key" {
			return ErrCodeExists
		}
		return fmt.Errorf("failed to create qr code: %w", err)
	}
	return nil
}

// GetQrCodeByID retrieves a QR code, soft-deleted or not.
func (r *Repository) GetQrCodeByID(ctx context.Context, id string) (*model.QrCode, error) {
	query := `SELECT ` + qrCodeColumns + ` FROM qr_codes WHERE id = $1`

	qr, err := scanQrCode(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get qr code: %w", err)
	}
	return qr, nil
}

// GetQrCodeByCode retrieves a QR code by short code, soft-deleted or not.
func (r *Repository) GetQrCodeByCode(ctx context.Context, code string) (*model.QrCode, error) {
	query := `SELECT ` + qrCodeColumns + ` FROM qr_codes WHERE code = $1`

	qr, err := scanQrCode(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get qr code by code: %w", err)
	}
	return qr, nil
}

// ListQrCodes returns every QR code matching filter, newest first.
func (r *Repository) ListQrCodes(ctx context.Context, filter QrCodeFilter) ([]*model.QrCode, error) {
	query, args := filterQuery(filter)
	query += " ORDER BY created_at DESC, id DESC"
	return r.queryQrCodes(ctx, query, args...)
}

// ListQrCodesPage returns one page of QR codes and the cursor of the next page.
func (r *Repository) ListQrCodesPage(ctx context.Context, filter QrCodeFilter, cursor string, limit int) ([]*model.QrCode, string, error) {
	var cursorData *PaginationCursor
	if cursor != "" {
		var err error
		cursorData, err = DecodeCursor(cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
	}

	query, args := filterQuery(filter)
	argIndex := len(args) + 1
	if cursorData != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursorData.CreatedAt, cursorData.ID)
		argIndex += 2
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1)

	qrs, err := r.queryQrCodes(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}

	var next string
	if len(qrs) > limit {
		qrs = qrs[:limit]
		last := qrs[len(qrs)-1]
		next = EncodeCursor(&PaginationCursor{ID: last.ID, CreatedAt: last.CreatedAt})
	}
	return qrs, next, nil
}

// ListAllCodes returns every assigned short code, including soft-deleted ones.
func (r *Repository) ListAllCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM qr_codes`)
	if err != nil {
		return nil, fmt.Errorf("failed to list codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect codes: %w", err)
	}
	return codes, nil
}

// CodeExists checks if a short code is taken. Soft-deleted codes still count.
func (r *Repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM qr_codes WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code existence: %w", err)
	}
	return exists, nil
}

// UpdateQrCode writes the mutable fields of a live QR code.
func (r *Repository) UpdateQrCode(ctx context.Context, qr *model.QrCode) error {
	query := `
		UPDATE qr_codes
		SET name = $2, profile_id = $3, target_url = $4, fallback_url = $5, campaign_type = $6,
		    start_date = $7, end_date = $8, redirect_behavior = $9, updated_at = $10
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query,
		qr.ID,
		qr.Name,
		qr.ProfileID,
		qr.TargetURL,
		qr.FallbackURL,
		qr.CampaignType,
		qr.StartDate,
		qr.EndDate,
		qr.RedirectBehavior,
		qr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update qr code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrQrCodeNotFound
	}
	return nil
}

// SoftDeleteQrCode marks a QR code deleted; its scan events are kept.
func (r *Repository) SoftDeleteQrCode(ctx context.Context, id string, at time.Time) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE qr_codes SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to delete qr code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrQrCodeNotFound
	}
	return nil
}

// HardDeleteQrCode purges a QR code; scan events go with it via ON DELETE CASCADE.
func (r *Repository) HardDeleteQrCode(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM qr_codes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to purge qr code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrQrCodeNotFound
	}
	return nil
}

// IncrementScanCounters atomically adds delta scans and moves last_scan_at forward.
func (r *Repository) IncrementScanCounters(ctx context.Context, qrCodeID string, delta int64, at time.Time) error {
	query := `
		UPDATE qr_codes
		SET total_scans = total_scans + $2,
		    last_scan_at = GREATEST(COALESCE(last_scan_at, $3), $3)
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, qrCodeID, delta, at)
	if err != nil {
		return fmt.Errorf("failed to increment scan counters: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrQrCodeNotFound
	}
	return nil
}

func filterQuery(filter QrCodeFilter) (string, []any) {
	query := `SELECT ` + qrCodeColumns + ` FROM qr_codes WHERE owner_id = $1`
	args := []any{filter.OwnerID}

	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	if filter.ProfileID != "" {
		args = append(args, filter.ProfileID)
		query += fmt.Sprintf(" AND profile_id = $%d", len(args))
	}
	if filter.CampaignType != "" {
		args = append(args, filter.CampaignType)
		query += fmt.Sprintf(" AND campaign_type = $%d", len(args))
	}
	return query, args
}

func (r *Repository) queryQrCodes(ctx context.Context, query string, args ...any) ([]*model.QrCode, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list qr codes: %w", err)
	}
	defer rows.Close()

	var qrs []*model.QrCode
	for rows.Next() {
		qr, err := scanQrCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan qr code: %w", err)
		}
		qrs = append(qrs, qr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating qr codes: %w", err)
	}
	return qrs, nil
}

// scanQrCode reads one row selected with qrCodeColumns.
func scanQrCode(row pgx.Row) (*model.QrCode, error) {
	var qr model.QrCode
	err := row.Scan(
		&qr.ID,
		&qr.Code,
		&qr.OwnerID,
		&qr.ProfileID,
		&qr.Name,
		&qr.TargetURL,
		&qr.FallbackURL,
		&qr.IsDynamic,
		&qr.CampaignType,
		&qr.StartDate,
		&qr.EndDate,
		&qr.RedirectBehavior,
		&qr.TotalScans,
		&qr.LastScanAt,
		&qr.DeletedAt,
		&qr.CreatedAt,
		&qr.UpdatedAt,
	)
	return &qr, err
}

// EncodeCursor encodes pagination cursor to base64.
func EncodeCursor(cursor *PaginationCursor) string {
	data, _ := json.Marshal(cursor)
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor decodes base64 pagination cursor.
func DecodeCursor(s string) (*PaginationCursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}

	var cursor PaginationCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}
