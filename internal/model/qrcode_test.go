package model

import (
	"testing"
	"time"
)

func TestQrCode_ToCached_Basic(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	qr := &QrCode{
		ID:               "qr-1",
		Code:             "abc1234",
		OwnerID:          "owner-1",
		TargetURL:        "https://example.com",
		IsDynamic:        true,
		CampaignType:     CampaignStandard,
		RedirectBehavior: RedirectAlwaysPrimary,
		UpdatedAt:        now,
	}

	cached := qr.ToCached()

	if cached.TargetURL != "https://example.com" {
		t.Errorf("TargetURL = %s, want https://example.com", cached.TargetURL)
	}
	if cached.IsDynamic != "1" {
		t.Errorf("IsDynamic = %s, want 1", cached.IsDynamic)
	}
	if cached.EndDate != "" || cached.StartDate != "" || cached.DeletedAt != "" {
		t.Errorf("optional times should be empty, got start=%q end=%q deleted=%q", cached.StartDate, cached.EndDate, cached.DeletedAt)
	}
	if cached.FallbackURL != "" {
		t.Errorf("FallbackURL should be empty, got %s", cached.FallbackURL)
	}
}

func TestCachedQrCode_RoundTripCampaign(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	fallback := "https://fb.example"
	profile := "profile-1"

	qr := &QrCode{
		ID:               "qr-2",
		Code:             "camp001",
		OwnerID:          "owner-1",
		ProfileID:        &profile,
		TargetURL:        "https://example.com/primary",
		FallbackURL:      &fallback,
		CampaignType:     CampaignMarketing,
		RedirectBehavior: RedirectFallbackExpired,
		StartDate:        &start,
		EndDate:          &end,
		UpdatedAt:        end,
	}

	restored := qr.ToCached().ToQrCode("camp001")

	if restored.ID != qr.ID || restored.Code != qr.Code {
		t.Fatalf("identity mismatch: got %s/%s", restored.ID, restored.Code)
	}
	if restored.StartDate == nil || !restored.StartDate.Equal(start) {
		t.Errorf("StartDate = %v, want %v", restored.StartDate, start)
	}
	if restored.EndDate == nil || !restored.EndDate.Equal(end) {
		t.Errorf("EndDate = %v, want %v", restored.EndDate, end)
	}
	if !restored.HasFallback() || *restored.FallbackURL != fallback {
		t.Errorf("FallbackURL = %v, want %s", restored.FallbackURL, fallback)
	}
	if restored.ProfileID == nil || *restored.ProfileID != profile {
		t.Errorf("ProfileID = %v, want %s", restored.ProfileID, profile)
	}
	if restored.RedirectBehavior != RedirectFallbackExpired {
		t.Errorf("RedirectBehavior = %s, want %s", restored.RedirectBehavior, RedirectFallbackExpired)
	}
	if restored.IsDeleted() {
		t.Error("restored code should not be deleted")
	}
}

func TestCachedQrCode_InvalidTimestamp(t *testing.T) {
	t.Parallel()

	cached := &CachedQrCode{ID: "qr-3", EndDate: "not-a-number"}
	qr := cached.ToQrCode("bad0001")

	if qr.EndDate != nil {
		t.Errorf("EndDate should be nil for invalid timestamp, got %v", qr.EndDate)
	}
}

func TestUnresolvedLocation(t *testing.T) {
	t.Parallel()

	loc := UnresolvedLocation()
	if loc.City != UnknownCategory || loc.Country != UnknownCategory {
		t.Errorf("unexpected sentinel %+v", loc)
	}
	if loc.IsResolved() {
		t.Error("sentinel must not carry coordinates")
	}
}

func TestEnums_IsValid(t *testing.T) {
	t.Parallel()

	if !CampaignMarketing.IsValid() || CampaignType("promo").IsValid() {
		t.Error("campaign type validation mismatch")
	}
	if !RedirectFallbackExpired.IsValid() || RedirectBehavior("never").IsValid() {
		t.Error("redirect behavior validation mismatch")
	}
}
