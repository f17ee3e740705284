// Package resolver decides where a scanned short code sends the visitor.
package resolver

import (
	"errors"
	"strings"
	"time"

	"github.com/scanpulse/scanpulse/internal/model"
)

// Resolution errors.
var (
	ErrNotFound          = errors.New("qr code not found")
	ErrExpiredNoFallback = errors.New("campaign ended")
	ErrCampaignPending   = errors.New("campaign not started")
)

// PendingPolicy controls scans that arrive before a campaign's start date.
type PendingPolicy string

const (
	// PendingAllow redirects to the target URL early.
	PendingAllow PendingPolicy = "allow"
	// PendingBlock answers with ErrCampaignPending.
	PendingBlock PendingPolicy = "block"
)

// Status is the campaign state a destination was chosen under.
type Status string

const (
	StatusActive          Status = "active"
	StatusPending         Status = "pending"
	StatusFallback        Status = "fallback"
	StatusPrimaryAfterEnd Status = "primary_after_end"
)

// Decision is the outcome of evaluating a QR code at a point in time.
type Decision struct {
	Destination string
	Status      Status
}

// Evaluate applies the campaign window of qr at now. A nil or soft-deleted
// code is ErrNotFound.
func Evaluate(qr *model.QrCode, now time.Time, policy PendingPolicy) (Decision, error) {
	if qr == nil || qr.IsDeleted() {
		return Decision{}, ErrNotFound
	}

	if qr.StartDate != nil && now.Before(*qr.StartDate) {
		if policy == PendingBlock {
			return Decision{Status: StatusPending}, ErrCampaignPending
		}
		return Decision{Destination: qr.TargetURL, Status: StatusPending}, nil
	}

	if qr.EndDate == nil || !now.After(*qr.EndDate) {
		return Decision{Destination: qr.TargetURL, Status: StatusActive}, nil
	}

	// Expired.
	if qr.RedirectBehavior == model.RedirectFallbackExpired {
		if qr.HasFallback() {
			return Decision{Destination: *qr.FallbackURL, Status: StatusFallback}, nil
		}
		return Decision{}, ErrExpiredNoFallback
	}
	return Decision{Destination: qr.TargetURL, Status: StatusPrimaryAfterEnd}, nil
}

// NormalizeDestination makes dest absolute. Paths resolve against baseURL,
// scheme-less hosts get https://, and everything else is kept verbatim.
func NormalizeDestination(baseURL, dest string) string {
	dest = strings.TrimSpace(dest)
	switch {
	case dest == "":
		return dest
	case strings.HasPrefix(dest, "/"):
		return strings.TrimRight(baseURL, "/") + dest
	case strings.Contains(dest, "://"):
		return dest
	}

	lower := strings.ToLower(dest)
	if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return dest
	}
	return "https://" + dest
}
