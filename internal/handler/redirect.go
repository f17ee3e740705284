package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scanpulse/scanpulse/internal/middleware"
	"github.com/scanpulse/scanpulse/internal/privacy"
	"github.com/scanpulse/scanpulse/internal/recorder"
	"github.com/scanpulse/scanpulse/internal/resolver"
)

// Scanner resolves a scanned code and dispatches its recording.
type Scanner interface {
	Scan(ctx context.Context, code string, rc recorder.RequestContext) (*resolver.Resolution, error)
}

// RedirectHandler handles scan requests.
type RedirectHandler struct {
	scanner Scanner
	logger  *slog.Logger
}

// NewRedirectHandler creates a new RedirectHandler.
func NewRedirectHandler(scanner Scanner, logger *slog.Logger) *RedirectHandler {
	return &RedirectHandler{
		scanner: scanner,
		logger:  logger.With("component", "handler.redirect"),
	}
}

// Redirect handles GET /{code}.
func (h *RedirectHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	start := time.Now()

	ip := middleware.ClientIP(r)
	rc := recorder.RequestContext{
		IP:        ip,
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
		Host:      r.Host,
	}

	res, err := h.scanner.Scan(r.Context(), code, rc)
	duration := float64(time.Since(start).Microseconds()) / 1000
	w.Header().Set("Cache-Control", "private, no-store")

	if err != nil {
		h.handleScanError(w, code, err, duration)
		return
	}

	h.logger.Info("redirect_success",
		"code", code,
		"qr_code_id", res.QrCode.ID,
		"status", res.Status,
		"cache_hit", res.CacheHit,
		"ip_hash", privacy.HashIP(ip),
		"duration_ms", duration,
	)

	http.Redirect(w, r, res.Destination, http.StatusFound)
}

func (h *RedirectHandler) handleScanError(w http.ResponseWriter, code string, err error, duration float64) {
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		h.logger.Info("redirect_not_found", "code", code, "duration_ms", duration)
		writeError(w, http.StatusNotFound, "QR_NOT_FOUND", "QR code not found")

	case errors.Is(err, resolver.ErrExpiredNoFallback):
		h.logger.Info("redirect_ended", "code", code, "duration_ms", duration)
		writeError(w, http.StatusGone, "CAMPAIGN_ENDED", "This campaign has ended")

	case errors.Is(err, resolver.ErrCampaignPending):
		h.logger.Info("redirect_pending", "code", code, "duration_ms", duration)
		writeError(w, http.StatusForbidden, "CAMPAIGN_NOT_STARTED", "This campaign has not started yet")

	default:
		h.logger.Error("redirect_error", "code", code, "error", err, "duration_ms", duration)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
