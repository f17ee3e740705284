// Package memory provides an in-process implementation of every storage port.
// It backs STORAGE_DRIVER=memory and unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/repository"
)

// Store keeps QR codes, profiles and scan events in memory.
// Returned records are copies; callers may mutate them freely.
type Store struct {
	mu       sync.RWMutex
	qrCodes  map[string]*model.QrCode
	byCode   map[string]string
	profiles map[string]*model.Profile
	events   []*model.ScanEvent
	eventIDs map[string]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		qrCodes:  make(map[string]*model.QrCode),
		byCode:   make(map[string]string),
		profiles: make(map[string]*model.Profile),
		eventIDs: make(map[string]struct{}),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// CreateQrCode inserts a QR code; a taken code is ErrCodeExists.
func (s *Store) CreateQrCode(_ context.Context, qr *model.QrCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byCode[qr.Code]; taken {
		return repository.ErrCodeExists
	}
	s.qrCodes[qr.ID] = copyQrCode(qr)
	s.byCode[qr.Code] = qr.ID
	return nil
}

// GetQrCodeByID retrieves a QR code, soft-deleted or not.
func (s *Store) GetQrCodeByID(_ context.Context, id string) (*model.QrCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qr, ok := s.qrCodes[id]
	if !ok {
		return nil, repository.ErrQrCodeNotFound
	}
	return copyQrCode(qr), nil
}

// GetQrCodeByCode retrieves a QR code by short code, soft-deleted or not.
func (s *Store) GetQrCodeByCode(_ context.Context, code string) (*model.QrCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, repository.ErrQrCodeNotFound
	}
	return copyQrCode(s.qrCodes[id]), nil
}

// ListQrCodes returns every QR code matching filter, newest first.
func (s *Store) ListQrCodes(_ context.Context, filter repository.QrCodeFilter) ([]*model.QrCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(filter), nil
}

// ListQrCodesPage returns one page of QR codes and the cursor of the next page.
func (s *Store) ListQrCodesPage(_ context.Context, filter repository.QrCodeFilter, cursor string, limit int) ([]*model.QrCode, string, error) {
	var after *repository.PaginationCursor
	if cursor != "" {
		var err error
		after, err = repository.DecodeCursor(cursor)
		if err != nil {
			return nil, "", repository.ErrInvalidCursor
		}
	}

	s.mu.RLock()
	all := s.filtered(filter)
	s.mu.RUnlock()

	page := make([]*model.QrCode, 0, limit)
	for _, qr := range all {
		if after != nil && !olderThan(qr, after) {
			continue
		}
		page = append(page, qr)
		if len(page) > limit {
			break
		}
	}

	var next string
	if len(page) > limit {
		page = page[:limit]
		last := page[len(page)-1]
		next = repository.EncodeCursor(&repository.PaginationCursor{ID: last.ID, CreatedAt: last.CreatedAt})
	}
	return page, next, nil
}

// ListAllCodes returns every assigned short code.
func (s *Store) ListAllCodes(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]string, 0, len(s.byCode))
	for code := range s.byCode {
		codes = append(codes, code)
	}
	return codes, nil
}

// CodeExists checks if a short code is taken. Soft-deleted codes still count.
func (s *Store) CodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byCode[code]
	return ok, nil
}

// UpdateQrCode writes the mutable fields of a live QR code.
func (s *Store) UpdateQrCode(_ context.Context, qr *model.QrCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.qrCodes[qr.ID]
	if !ok || existing.IsDeleted() {
		return repository.ErrQrCodeNotFound
	}
	updated := copyQrCode(qr)
	updated.Code = existing.Code
	updated.OwnerID = existing.OwnerID
	updated.IsDynamic = existing.IsDynamic
	updated.TotalScans = existing.TotalScans
	updated.LastScanAt = existing.LastScanAt
	updated.CreatedAt = existing.CreatedAt
	s.qrCodes[qr.ID] = updated
	return nil
}

// SoftDeleteQrCode marks a live QR code deleted.
func (s *Store) SoftDeleteQrCode(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qr, ok := s.qrCodes[id]
	if !ok || qr.IsDeleted() {
		return repository.ErrQrCodeNotFound
	}
	deletedAt := at.UTC()
	qr.DeletedAt = &deletedAt
	qr.UpdatedAt = deletedAt
	return nil
}

// HardDeleteQrCode purges a QR code and its scan events.
func (s *Store) HardDeleteQrCode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qr, ok := s.qrCodes[id]
	if !ok {
		return repository.ErrQrCodeNotFound
	}
	delete(s.qrCodes, id)
	delete(s.byCode, qr.Code)

	kept := s.events[:0]
	for _, e := range s.events {
		if e.QrCodeID == id {
			if e.EventID != "" {
				delete(s.eventIDs, e.EventID)
			}
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return nil
}

// IncrementScanCounters adds delta scans and moves LastScanAt forward.
func (s *Store) IncrementScanCounters(_ context.Context, qrCodeID string, delta int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qr, ok := s.qrCodes[qrCodeID]
	if !ok {
		return repository.ErrQrCodeNotFound
	}
	qr.TotalScans += delta
	if qr.LastScanAt == nil || at.After(*qr.LastScanAt) {
		last := at.UTC()
		qr.LastScanAt = &last
	}
	return nil
}

// CreateProfile inserts a profile; slugs are unique.
func (s *Store) CreateProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.profiles {
		if existing.Slug == p.Slug {
			return repository.ErrSlugExists
		}
	}
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

// GetProfileByID retrieves a profile.
func (s *Store) GetProfileByID(_ context.Context, id string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// ListProfilesByOwner returns an owner's profiles by creation time.
func (s *Store) ListProfilesByOwner(_ context.Context, ownerID string) ([]*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Profile
	for _, p := range s.profiles {
		if p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) filtered(filter repository.QrCodeFilter) []*model.QrCode {
	var out []*model.QrCode
	for _, qr := range s.qrCodes {
		if qr.OwnerID != filter.OwnerID {
			continue
		}
		if qr.IsDeleted() && !filter.IncludeDeleted {
			continue
		}
		if filter.ProfileID != "" && (qr.ProfileID == nil || *qr.ProfileID != filter.ProfileID) {
			continue
		}
		if filter.CampaignType != "" && qr.CampaignType != filter.CampaignType {
			continue
		}
		out = append(out, copyQrCode(qr))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// olderThan reports whether qr sorts after cursor in newest-first order.
func olderThan(qr *model.QrCode, cursor *repository.PaginationCursor) bool {
	if !qr.CreatedAt.Equal(cursor.CreatedAt) {
		return qr.CreatedAt.Before(cursor.CreatedAt)
	}
	return qr.ID < cursor.ID
}

func copyQrCode(qr *model.QrCode) *model.QrCode {
	cp := *qr
	cp.ProfileID = copyString(qr.ProfileID)
	cp.FallbackURL = copyString(qr.FallbackURL)
	cp.StartDate = copyTime(qr.StartDate)
	cp.EndDate = copyTime(qr.EndDate)
	cp.LastScanAt = copyTime(qr.LastScanAt)
	cp.DeletedAt = copyTime(qr.DeletedAt)
	return &cp
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
