// Package recorder turns resolved scans into persisted ScanEvents.
// Recording is best effort: failures are logged and counted, never returned
// to the redirect path.
package recorder

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/scanpulse/scanpulse/internal/geo"
	"github.com/scanpulse/scanpulse/internal/identity"
	"github.com/scanpulse/scanpulse/internal/metrics"
	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/privacy"
)

// maxMetaLength caps the raw user agent and referrer stored per event.
const maxMetaLength = 500

// ErrDuplicateEvent is reported when an event with the same EventID was already stored.
var ErrDuplicateEvent = errors.New("scan event already recorded")

// ScanStore persists scan events and bumps QR code counters.
type ScanStore interface {
	// InsertScanEvent stores the event. It returns false without error when
	// the event's EventID was already recorded.
	InsertScanEvent(ctx context.Context, event *model.ScanEvent) (bool, error)
	// IncrementScanCounters atomically adds delta to total_scans and moves
	// last_scan_at forward to at.
	IncrementScanCounters(ctx context.Context, qrCodeID string, delta int64, at time.Time) error
}

// RequestContext is the raw request metadata captured at scan time.
type RequestContext struct {
	IP        string
	UserAgent string
	Referrer  string
	Host      string
	// At overrides the recorder clock; used when replaying queued scans.
	At time.Time
	// EventID is the idempotency key of a queued scan.
	EventID string
}

// Outcome describes what happened to one recording attempt.
type Outcome string

const (
	OutcomeRecorded      Outcome = "success"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeInsertFailed  Outcome = "failed"
	OutcomeCounterFailed Outcome = "counter_failed"
)

// Recorder builds and persists scan events.
type Recorder struct {
	store   ScanStore
	locator geo.Locator
	now     func() time.Time
	logger  *slog.Logger
	metrics metrics.Recorder
}

// New creates a Recorder. A nil locator resolves every scan to the unresolved location.
func New(store ScanStore, locator geo.Locator, logger *slog.Logger, recorder metrics.Recorder) *Recorder {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if locator == nil {
		locator = geo.NewGuard(nil, 0, logger, recorder)
	}
	return &Recorder{
		store:   store,
		locator: locator,
		now:     time.Now,
		logger:  logger.With("component", "recorder"),
		metrics: recorder,
	}
}

// SetClock overrides the time source.
func (r *Recorder) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Record persists one scan of qr. It never fails from the caller's point of view.
func (r *Recorder) Record(ctx context.Context, qr *model.QrCode, rc RequestContext) {
	_, _ = r.RecordOutcome(ctx, qr, rc)
}

// RecordOutcome is Record with the result exposed for workers and tests.
// The returned error is already logged and counted.
func (r *Recorder) RecordOutcome(ctx context.Context, qr *model.QrCode, rc RequestContext) (Outcome, error) {
	event := r.Build(ctx, qr, rc)

	inserted, err := r.store.InsertScanEvent(ctx, event)
	if err != nil {
		r.logger.Error("failed to persist scan event",
			"qr_code_id", event.QrCodeID,
			"ip_hash", privacy.HashIP(event.ClientIP),
			"error", err,
		)
		r.metrics.IncScanRecorded(string(OutcomeInsertFailed))
		return OutcomeInsertFailed, fmt.Errorf("insert scan event: %w", err)
	}
	if !inserted {
		r.logger.Debug("duplicate scan event ignored",
			"qr_code_id", event.QrCodeID,
			"event_id", event.EventID,
		)
		r.metrics.IncScanRecorded(string(OutcomeDuplicate))
		return OutcomeDuplicate, ErrDuplicateEvent
	}

	if err := r.store.IncrementScanCounters(ctx, event.QrCodeID, 1, event.Timestamp); err != nil {
		r.logger.Error("failed to increment scan counters",
			"qr_code_id", event.QrCodeID,
			"scan_event_id", event.ID,
			"error", err,
		)
		r.metrics.IncScanRecorded(string(OutcomeCounterFailed))
		return OutcomeCounterFailed, fmt.Errorf("increment counters: %w", err)
	}

	r.logger.Debug("scan recorded",
		"qr_code_id", event.QrCodeID,
		"scan_event_id", event.ID,
		"device", event.Device,
		"ip_hash", privacy.HashIP(event.ClientIP),
	)
	r.metrics.IncScanRecorded(string(OutcomeRecorded))
	return OutcomeRecorded, nil
}

// Build assembles the immutable event for a scan without persisting it.
func (r *Recorder) Build(ctx context.Context, qr *model.QrCode, rc RequestContext) *model.ScanEvent {
	ts := rc.At
	if ts.IsZero() {
		ts = r.now()
	}
	ts = ts.UTC()

	ip := orUnknown(rc.IP)
	ua := orUnknown(truncate(rc.UserAgent))
	id := identity.Parse(rc.UserAgent)

	return &model.ScanEvent{
		ID:        newULID(ts),
		EventID:   rc.EventID,
		QrCodeID:  qr.ID,
		Timestamp: ts,
		ClientIP:  ip,
		UserAgent: ua,
		Referrer:  orUnknown(truncate(rc.Referrer)),
		Device:    id.Device,
		Browser:   id.Browser,
		OS:        id.OS,
		Location:  r.locator.Locate(ctx, ip),
	}
}

func newULID(ts time.Time) string {
	return ulid.MustNew(ulid.Timestamp(ts), rand.Reader).String()
}

func orUnknown(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return model.Unknown
	}
	return value
}

// truncate drops invalid UTF-8 and cuts value to at most maxMetaLength
// bytes on a rune boundary.
func truncate(value string) string {
	value = strings.ToValidUTF8(value, "")
	if len(value) <= maxMetaLength {
		return value
	}
	cut := maxMetaLength
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
