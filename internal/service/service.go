// Package service provides QR code and profile business logic.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/scanpulse/scanpulse/internal/metrics"
	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/repository"
)

// Service errors.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("qr code not found")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrImmutableDestination = errors.New("static qr code destination cannot change")
	ErrCodeGeneration       = errors.New("failed to generate unique code")
	ErrSlugExists           = errors.New("profile slug already exists")
)

// Store is the persistence the service needs.
type Store interface {
	CreateQrCode(ctx context.Context, qr *model.QrCode) error
	GetQrCodeByID(ctx context.Context, id string) (*model.QrCode, error)
	ListQrCodesPage(ctx context.Context, filter repository.QrCodeFilter, cursor string, limit int) ([]*model.QrCode, string, error)
	ListAllCodes(ctx context.Context) ([]string, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	UpdateQrCode(ctx context.Context, qr *model.QrCode) error
	SoftDeleteQrCode(ctx context.Context, id string, at time.Time) error
	HardDeleteQrCode(ctx context.Context, id string) error
	CreateProfile(ctx context.Context, p *model.Profile) error
	GetProfileByID(ctx context.Context, id string) (*model.Profile, error)
	ListProfilesByOwner(ctx context.Context, ownerID string) ([]*model.Profile, error)
}

// CacheInvalidator drops cached redirect entries.
type CacheInvalidator interface {
	DeleteQrCode(ctx context.Context, code string) error
}

// QrCodeService handles QR code business logic.
type QrCodeService struct {
	store   Store
	cache   CacheInvalidator
	baseURL string
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time

	randomCode func() (string, error)
	codesMu    sync.Mutex
	codes      *bloom.BloomFilter
}

// NewQrCodeService creates a QrCodeService. cache may be nil.
func NewQrCodeService(store Store, cache CacheInvalidator, baseURL string, logger *slog.Logger, recorder metrics.Recorder) *QrCodeService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &QrCodeService{
		store:      store,
		cache:      cache,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger.With("component", "service.qrcode"),
		metrics:    recorder,
		now:        time.Now,
		randomCode: randomCode,
		codes:      bloom.NewWithEstimates(bloomCapacity, bloomFalsePositiveRate),
	}
}

// SetClock overrides the time source.
func (s *QrCodeService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// BaseURL returns the configured base URL.
func (s *QrCodeService) BaseURL() string {
	return s.baseURL
}

// ShortURL is the scan URL encoded into the QR image.
func (s *QrCodeService) ShortURL(code string) string {
	return s.baseURL + "/" + code
}

// invalidate evicts code from the redirect cache. Failures only delay
// propagation until the entry's TTL.
func (s *QrCodeService) invalidate(ctx context.Context, code string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteQrCode(ctx, code); err != nil {
		s.logger.Warn("cache invalidation failed", "code", code, "error", err)
	}
}
