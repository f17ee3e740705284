package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/scanpulse/scanpulse/internal/cache"
	"github.com/scanpulse/scanpulse/internal/metrics"
	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/recorder"
	"github.com/scanpulse/scanpulse/internal/repository"
)

// QrCodeStore looks up QR codes by short code, including soft-deleted ones.
type QrCodeStore interface {
	GetQrCodeByCode(ctx context.Context, code string) (*model.QrCode, error)
}

// Cache is the optional lookup cache in front of QrCodeStore.
type Cache interface {
	GetQrCode(ctx context.Context, code string) (*model.QrCode, error)
	SetQrCode(ctx context.Context, qr *model.QrCode) error
	IsNegativelyCached(ctx context.Context, code string) (bool, error)
	SetNegativeCache(ctx context.Context, code string) error
}

// Resolution is a decided redirect.
type Resolution struct {
	QrCode      *model.QrCode
	Destination string
	Status      Status
	CacheHit    bool
}

// Resolver runs the scan hot path: lookup, decide, dispatch.
type Resolver struct {
	store      QrCodeStore
	cache      Cache
	dispatcher recorder.Dispatcher
	baseURL    string
	policy     PendingPolicy
	now        func() time.Time
	logger     *slog.Logger
	metrics    metrics.Recorder
}

// Config holds resolver settings.
type Config struct {
	BaseURL       string
	PendingPolicy PendingPolicy
}

// New creates a Resolver. cache and dispatcher may be nil.
func New(store QrCodeStore, c Cache, dispatcher recorder.Dispatcher, cfg Config, logger *slog.Logger, rec metrics.Recorder) *Resolver {
	if rec == nil {
		rec = metrics.NewNoop()
	}
	policy := cfg.PendingPolicy
	if policy == "" {
		policy = PendingAllow
	}
	return &Resolver{
		store:      store,
		cache:      c,
		dispatcher: dispatcher,
		baseURL:    cfg.BaseURL,
		policy:     policy,
		now:        time.Now,
		logger:     logger.With("component", "resolver"),
		metrics:    rec,
	}
}

// SetClock overrides the time source.
func (r *Resolver) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// BaseURL returns the public base URL used for relative destinations.
func (r *Resolver) BaseURL() string {
	return r.baseURL
}

// Resolve looks up code and decides its destination at now.
func (r *Resolver) Resolve(ctx context.Context, code string, now time.Time) (*Resolution, error) {
	start := time.Now()
	defer func() {
		r.metrics.ObserveResolveDuration(time.Since(start))
	}()

	qr, hit, err := r.lookup(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.metrics.IncRedirectOutcome("not_found")
		}
		return nil, err
	}

	decision, err := Evaluate(qr, now, r.policy)
	switch {
	case errors.Is(err, ErrNotFound):
		r.metrics.IncRedirectOutcome("not_found")
		return nil, err
	case errors.Is(err, ErrExpiredNoFallback):
		r.metrics.IncRedirectOutcome("ended")
		return &Resolution{QrCode: qr, CacheHit: hit}, err
	case errors.Is(err, ErrCampaignPending):
		r.metrics.IncRedirectOutcome("blocked")
		return &Resolution{QrCode: qr, Status: StatusPending, CacheHit: hit}, err
	}

	if decision.Status == StatusPending {
		r.logger.Info("campaign not started, allowing scan",
			"qr_code_id", qr.ID,
			"start_date", qr.StartDate,
		)
	}
	r.metrics.IncRedirectOutcome(string(decision.Status))

	return &Resolution{
		QrCode:      qr,
		Destination: NormalizeDestination(r.baseURL, decision.Destination),
		Status:      decision.Status,
		CacheHit:    hit,
	}, nil
}

// Scan resolves code at the current time and, when a destination was
// produced, dispatches recording without waiting on it.
func (r *Resolver) Scan(ctx context.Context, code string, rc recorder.RequestContext) (*Resolution, error) {
	now := r.now()
	res, err := r.Resolve(ctx, code, now)
	if err != nil {
		return res, err
	}
	if r.dispatcher != nil {
		rc.At = now
		r.dispatcher.Dispatch(res.QrCode, rc)
	}
	return res, nil
}

// lookup is cache first, then the store. Cache errors degrade to the store.
func (r *Resolver) lookup(ctx context.Context, code string) (*model.QrCode, bool, error) {
	if r.cache != nil {
		qr, err := r.cache.GetQrCode(ctx, code)
		if err == nil {
			r.metrics.IncRedirectCacheHit()
			return qr, true, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("cache lookup failed", "code", code, "error", err)
		}
		r.metrics.IncRedirectCacheMiss()

		if negative, _ := r.cache.IsNegativelyCached(ctx, code); negative {
			return nil, false, ErrNotFound
		}
	}

	qr, err := r.store.GetQrCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrQrCodeNotFound) {
			if r.cache != nil {
				_ = r.cache.SetNegativeCache(ctx, code)
			}
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}

	if r.cache != nil {
		if err := r.cache.SetQrCode(ctx, qr); err != nil {
			r.logger.Warn("cache backfill failed", "code", code, "error", err)
		}
	}
	return qr, false, nil
}
