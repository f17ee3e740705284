// Package model defines domain entities for the application.
package model

import (
	"strconv"
	"time"
)

// CampaignType classifies how a QR code is used.
type CampaignType string

const (
	CampaignStandard  CampaignType = "standard"
	CampaignMarketing CampaignType = "marketing-campaign"
)

// IsValid checks if the campaign type is known.
func (c CampaignType) IsValid() bool {
	return c == CampaignStandard || c == CampaignMarketing
}

// RedirectBehavior decides where an expired campaign sends visitors.
type RedirectBehavior string

const (
	RedirectAlwaysPrimary   RedirectBehavior = "always_primary"
	RedirectFallbackExpired RedirectBehavior = "fallback_expired"
)

// IsValid checks if the redirect behavior is known.
func (r RedirectBehavior) IsValid() bool {
	return r == RedirectAlwaysPrimary || r == RedirectFallbackExpired
}

// QrCode is a scannable short code pointing at a destination.
type QrCode struct {
	ID               string           `json:"id"`
	Code             string           `json:"code"`
	OwnerID          string           `json:"owner_id"`
	ProfileID        *string          `json:"profile_id,omitempty"`
	Name             string           `json:"name"`
	TargetURL        string           `json:"target_url"`
	FallbackURL      *string          `json:"fallback_url,omitempty"`
	IsDynamic        bool             `json:"is_dynamic"`
	CampaignType     CampaignType     `json:"campaign_type"`
	StartDate        *time.Time       `json:"start_date,omitempty"`
	EndDate          *time.Time       `json:"end_date,omitempty"`
	RedirectBehavior RedirectBehavior `json:"redirect_behavior"`
	TotalScans       int64            `json:"total_scans"`
	LastScanAt       *time.Time       `json:"last_scan_at,omitempty"`
	DeletedAt        *time.Time       `json:"deleted_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsDeleted reports whether the code has been soft-deleted.
func (q *QrCode) IsDeleted() bool {
	return q.DeletedAt != nil
}

// HasFallback reports whether a non-empty fallback URL is configured.
func (q *QrCode) HasFallback() bool {
	return q.FallbackURL != nil && *q.FallbackURL != ""
}

// CachedQrCode is the Redis hash projection of a QrCode used by the redirect path.
// Times are Unix seconds, empty when unset.
type CachedQrCode struct {
	ID               string `redis:"id"`
	OwnerID          string `redis:"owner_id"`
	ProfileID        string `redis:"profile_id"`
	TargetURL        string `redis:"target_url"`
	FallbackURL      string `redis:"fallback_url"`
	IsDynamic        string `redis:"is_dynamic"`
	CampaignType     string `redis:"campaign_type"`
	RedirectBehavior string `redis:"redirect_behavior"`
	StartDate        string `redis:"start_date"`
	EndDate          string `redis:"end_date"`
	DeletedAt        string `redis:"deleted_at"`
	UpdatedAt        string `redis:"updated_at"`
}

// ToCached converts a QrCode into its cache projection.
func (q *QrCode) ToCached() *CachedQrCode {
	cached := &CachedQrCode{
		ID:               q.ID,
		OwnerID:          q.OwnerID,
		TargetURL:        q.TargetURL,
		IsDynamic:        boolToString(q.IsDynamic),
		CampaignType:     string(q.CampaignType),
		RedirectBehavior: string(q.RedirectBehavior),
		StartDate:        unixOrEmpty(q.StartDate),
		EndDate:          unixOrEmpty(q.EndDate),
		DeletedAt:        unixOrEmpty(q.DeletedAt),
		UpdatedAt:        strconv.FormatInt(q.UpdatedAt.Unix(), 10),
	}
	if q.ProfileID != nil {
		cached.ProfileID = *q.ProfileID
	}
	if q.FallbackURL != nil {
		cached.FallbackURL = *q.FallbackURL
	}
	return cached
}

// ToQrCode rebuilds the fields of a QrCode needed for resolution.
// Counters and display fields are not cached and stay zero.
func (c *CachedQrCode) ToQrCode(code string) *QrCode {
	qr := &QrCode{
		ID:               c.ID,
		Code:             code,
		OwnerID:          c.OwnerID,
		TargetURL:        c.TargetURL,
		IsDynamic:        c.IsDynamic == "1",
		CampaignType:     CampaignType(c.CampaignType),
		RedirectBehavior: RedirectBehavior(c.RedirectBehavior),
		StartDate:        parseUnix(c.StartDate),
		EndDate:          parseUnix(c.EndDate),
		DeletedAt:        parseUnix(c.DeletedAt),
	}
	if c.ProfileID != "" {
		profileID := c.ProfileID
		qr.ProfileID = &profileID
	}
	if c.FallbackURL != "" {
		fallback := c.FallbackURL
		qr.FallbackURL = &fallback
	}
	if updated := parseUnix(c.UpdatedAt); updated != nil {
		qr.UpdatedAt = *updated
	}
	return qr
}

func unixOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func parseUnix(value string) *time.Time {
	if value == "" {
		return nil
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

// boolToString converts boolean to "1" or "0".
func boolToString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
