package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scanpulse/scanpulse/internal/metrics"
	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/store/memory"
	"github.com/scanpulse/scanpulse/internal/testutil"
)

type recordingCache struct {
	mu      sync.Mutex
	deleted []string
}

func (c *recordingCache) DeleteQrCode(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, code)
	return nil
}

func newTestService(t *testing.T) (*QrCodeService, *memory.Store, *recordingCache, *metrics.InMemoryRecorder) {
	t.Helper()
	store := memory.New()
	cache := &recordingCache{}
	rec := metrics.NewInMemory()
	svc := NewQrCodeService(store, cache, "https://qr.example/", slog.New(slog.NewTextHandler(io.Discard, nil)), rec)
	svc.SetClock(func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) })
	return svc, store, cache, rec
}

func sequence(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
}

func TestCreate_Defaults(t *testing.T) {
	t.Parallel()
	svc, _, _, rec := newTestService(t)

	qr, err := svc.Create(context.Background(), CreateInput{OwnerID: "owner-1", Name: " Menu ", TargetURL: "example.com/menu"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(qr.Code) != codeLength {
		t.Errorf("code %q should be %d chars", qr.Code, codeLength)
	}
	for _, r := range qr.Code {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Errorf("code %q has character outside alphabet", qr.Code)
		}
	}
	if qr.CampaignType != model.CampaignStandard || qr.RedirectBehavior != model.RedirectAlwaysPrimary || !qr.IsDynamic {
		t.Errorf("unexpected defaults %+v", qr)
	}
	if qr.Name != "Menu" {
		t.Errorf("Name = %q", qr.Name)
	}
	if got := svc.ShortURL(qr.Code); got != "https://qr.example/"+qr.Code {
		t.Errorf("ShortURL = %q", got)
	}
	if rec.Snapshot().QrCodesCreated != 1 {
		t.Error("expected created metric")
	}
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	bad := "ftp://files.example"

	tests := []struct {
		name    string
		input   CreateInput
		wantErr error
	}{
		{"empty target", CreateInput{OwnerID: "o"}, ErrInvalidInput},
		{"bad scheme", CreateInput{OwnerID: "o", TargetURL: "ftp://files.example"}, ErrInvalidInput},
		{"bad fallback", CreateInput{OwnerID: "o", TargetURL: "https://a.example", FallbackURL: &bad}, ErrInvalidInput},
		{"bad campaign type", CreateInput{OwnerID: "o", TargetURL: "https://a.example", CampaignType: "flash"}, ErrInvalidInput},
		{"bad behavior", CreateInput{OwnerID: "o", TargetURL: "https://a.example", RedirectBehavior: "random"}, ErrInvalidInput},
		{"end before start", CreateInput{OwnerID: "o", TargetURL: "https://a.example", StartDate: &start, EndDate: &end}, ErrInvalidInput},
		{"unknown profile", CreateInput{OwnerID: "o", TargetURL: "https://a.example", ProfileID: strPtr("nope")}, ErrProfileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.input); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateDestination(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dest  string
		valid bool
	}{
		{"https://example.com/path", true},
		{"http://example.com", true},
		{"example.com/landing", true},
		{"/profiles/shop", true},
		{"mailto:hi@example.com", true},
		{"tel:+15551234", true},
		{"", false},
		{"   ", false},
		{"ftp://example.com", false},
		{"https://", false},
		{"https://example.com/" + strings.Repeat("a", maxDestinationLength), false},
	}

	for _, tt := range tests {
		err := validateDestination(tt.dest)
		if (err == nil) != tt.valid {
			t.Errorf("validateDestination(%q) = %v, valid=%v", tt.dest, err, tt.valid)
		}
	}
}

func TestCreate_RetriesCollisions(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	existing := testutil.NewTestQrCode(t, "owner-1")
	existing.Code = "TAKEN01"
	if err := store.CreateQrCode(ctx, existing); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Unwarmed filter: the unique constraint catches the clash.
	svc.randomCode = sequence("TAKEN01", "FRESH01")
	qr, err := svc.Create(ctx, CreateInput{OwnerID: "owner-1", TargetURL: "https://a.example"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if qr.Code != "FRESH01" {
		t.Errorf("Code = %q, want FRESH01", qr.Code)
	}

	// Warmed filter: the clash is caught before the insert.
	if err := svc.WarmCodes(ctx); err != nil {
		t.Fatalf("WarmCodes: %v", err)
	}
	svc.randomCode = sequence("FRESH01", "TAKEN01", "FRESH02")
	qr, err = svc.Create(ctx, CreateInput{OwnerID: "owner-1", TargetURL: "https://b.example"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if qr.Code != "FRESH02" {
		t.Errorf("Code = %q, want FRESH02", qr.Code)
	}
}

func TestCreate_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	existing := testutil.NewTestQrCode(t, "owner-1")
	existing.Code = "TAKEN01"
	_ = store.CreateQrCode(ctx, existing)

	svc.randomCode = sequence("TAKEN01")
	if _, err := svc.Create(ctx, CreateInput{OwnerID: "owner-1", TargetURL: "https://a.example"}); !errors.Is(err, ErrCodeGeneration) {
		t.Fatalf("expected ErrCodeGeneration, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	svc, _, cache, _ := newTestService(t)
	ctx := context.Background()

	static := false
	qr, err := svc.Create(ctx, CreateInput{OwnerID: "owner-1", TargetURL: "https://a.example", IsDynamic: &static})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Update(ctx, UpdateInput{ID: qr.ID, OwnerID: "owner-1", TargetURL: strPtr("https://b.example")}); !errors.Is(err, ErrImmutableDestination) {
		t.Errorf("static destination: expected ErrImmutableDestination, got %v", err)
	}
	if _, err := svc.Update(ctx, UpdateInput{ID: qr.ID, OwnerID: "owner-2", Name: strPtr("x")}); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign owner: expected ErrNotFound, got %v", err)
	}

	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	campaign := model.CampaignMarketing
	behavior := model.RedirectFallbackExpired
	updated, err := svc.Update(ctx, UpdateInput{
		ID:               qr.ID,
		OwnerID:          "owner-1",
		Name:             strPtr("Spring"),
		FallbackURL:      strPtr("https://fb.example"),
		CampaignType:     &campaign,
		RedirectBehavior: &behavior,
		EndDate:          &end,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Spring" || !updated.HasFallback() || updated.EndDate == nil {
		t.Errorf("unexpected update result %+v", updated)
	}

	cleared, err := svc.Update(ctx, UpdateInput{ID: qr.ID, OwnerID: "owner-1", FallbackURL: strPtr(""), ClearEndDate: true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cleared.FallbackURL != nil || cleared.EndDate != nil {
		t.Errorf("expected cleared fields, got %+v", cleared)
	}

	if len(cache.deleted) != 2 || cache.deleted[0] != qr.Code {
		t.Errorf("expected two invalidations of %s, got %v", qr.Code, cache.deleted)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	svc, store, cache, _ := newTestService(t)
	ctx := context.Background()

	qr, _ := svc.Create(ctx, CreateInput{OwnerID: "owner-1", TargetURL: "https://a.example"})

	if err := svc.Delete(ctx, "owner-2", qr.ID, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign delete: expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, "owner-1", qr.ID, false); err != nil {
		t.Fatalf("soft Delete: %v", err)
	}
	got, _ := store.GetQrCodeByID(ctx, qr.ID)
	if !got.IsDeleted() {
		t.Error("expected soft delete")
	}
	if _, err := svc.Update(ctx, UpdateInput{ID: qr.ID, OwnerID: "owner-1", Name: strPtr("x")}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update after delete: expected ErrNotFound, got %v", err)
	}

	if err := svc.Delete(ctx, "owner-1", qr.ID, true); err != nil {
		t.Fatalf("hard Delete: %v", err)
	}
	if _, err := store.GetQrCodeByID(ctx, qr.ID); err == nil {
		t.Error("expected purge")
	}
	if len(cache.deleted) != 2 {
		t.Errorf("expected two invalidations, got %v", cache.deleted)
	}
}

func TestList(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, CreateInput{OwnerID: "owner-1", TargetURL: "https://a.example"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	out, err := svc.List(ctx, ListInput{OwnerID: "owner-1", Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out.QrCodes) != 2 || !out.HasMore {
		t.Errorf("expected a full first page, got %d more=%v", len(out.QrCodes), out.HasMore)
	}

	if _, err := svc.List(ctx, ListInput{OwnerID: "owner-1", Cursor: "@@"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad cursor, got %v", err)
	}
}

func TestRenderPNG(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	qr, _ := svc.Create(ctx, CreateInput{OwnerID: "owner-1", TargetURL: "https://a.example"})

	png, err := svc.RenderPNG(ctx, "owner-1", qr.ID, 10)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("expected PNG signature")
	}
	if _, err := svc.RenderPNG(ctx, "owner-2", qr.ID, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestProfiles(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateProfile(ctx, "owner-1", "Coffee Shop", " Coffee ")
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if p.Slug != "coffee" {
		t.Errorf("Slug = %q", p.Slug)
	}
	if _, err := svc.CreateProfile(ctx, "owner-2", "Other", "coffee"); !errors.Is(err, ErrSlugExists) {
		t.Errorf("expected ErrSlugExists, got %v", err)
	}

	qr, err := svc.Create(ctx, CreateInput{OwnerID: "owner-1", TargetURL: "/p/coffee", ProfileID: &p.ID})
	if err != nil {
		t.Fatalf("Create with profile: %v", err)
	}
	if qr.ProfileID == nil || *qr.ProfileID != p.ID {
		t.Errorf("ProfileID = %v", qr.ProfileID)
	}
	if _, err := svc.Create(ctx, CreateInput{OwnerID: "owner-2", TargetURL: "/x", ProfileID: &p.ID}); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("foreign profile: expected ErrProfileNotFound, got %v", err)
	}

	list, _ := svc.ListProfiles(ctx, "owner-1")
	if len(list) != 1 {
		t.Errorf("expected one profile, got %d", len(list))
	}
}

func strPtr(s string) *string { return &s }
