// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/scanpulse/scanpulse/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// TruncateAll empties every application table.
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `TRUNCATE scan_events, qr_codes, profiles`); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

var seq atomic.Int64

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

// UniqueCode generates a unique 7 character short code for tests.
func UniqueCode() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	n := time.Now().UnixNano() + seq.Add(1)
	buf := make([]byte, 7)
	for i := range buf {
		buf[i] = alphabet[n%int64(len(alphabet))]
		n /= int64(len(alphabet))
	}
	return string(buf)
}

// NewTestQrCode creates a standard QR code with sensible defaults.
func NewTestQrCode(t testing.TB, ownerID string) *model.QrCode {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	return &model.QrCode{
		ID:               UniqueID("qr"),
		Code:             UniqueCode(),
		OwnerID:          ownerID,
		Name:             "Test QR",
		TargetURL:        "https://example.com/landing",
		IsDynamic:        true,
		CampaignType:     model.CampaignStandard,
		RedirectBehavior: model.RedirectAlwaysPrimary,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NewTestCampaign creates a marketing-campaign QR code running from start to end.
func NewTestCampaign(t testing.TB, ownerID string, start, end time.Time, fallback string) *model.QrCode {
	t.Helper()
	qr := NewTestQrCode(t, ownerID)
	qr.CampaignType = model.CampaignMarketing
	qr.StartDate = &start
	qr.EndDate = &end
	if fallback != "" {
		qr.FallbackURL = &fallback
		qr.RedirectBehavior = model.RedirectFallbackExpired
	}
	return qr
}

// NewTestProfile creates a profile with a unique slug.
func NewTestProfile(t testing.TB, ownerID, name string) *model.Profile {
	t.Helper()
	return &model.Profile{
		ID:        UniqueID("profile"),
		OwnerID:   ownerID,
		Name:      name,
		Slug:      UniqueID("slug"),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// NewTestScanEvent creates a scan event of qrCodeID at ts.
func NewTestScanEvent(qrCodeID string, ts time.Time, ip, device string) *model.ScanEvent {
	return &model.ScanEvent{
		ID:        UniqueID("scan"),
		QrCodeID:  qrCodeID,
		Timestamp: ts.UTC(),
		ClientIP:  ip,
		UserAgent: model.Unknown,
		Referrer:  model.Unknown,
		Device:    device,
		Browser:   model.UnknownCategory,
		OS:        model.UnknownCategory,
		Location:  model.UnresolvedLocation(),
	}
}
