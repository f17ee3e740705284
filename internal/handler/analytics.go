package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/scanpulse/scanpulse/internal/aggregation"
	"github.com/scanpulse/scanpulse/internal/auth"
	"github.com/scanpulse/scanpulse/internal/dashboard"
	"github.com/scanpulse/scanpulse/internal/export"
	"github.com/scanpulse/scanpulse/internal/model"
)

// errInvalidQuery marks malformed analytics query parameters.
var errInvalidQuery = errors.New("invalid query")

// AnalyticsHandler serves the read side: reports, dashboard, rankings and
// the XLSX export.
type AnalyticsHandler struct {
	scopes *aggregation.ScopeResolver
	engine *aggregation.Engine
	now    func() time.Time
	logger *slog.Logger
}

// NewAnalyticsHandler creates a new AnalyticsHandler.
func NewAnalyticsHandler(scopes *aggregation.ScopeResolver, engine *aggregation.Engine, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		scopes: scopes,
		engine: engine,
		now:    time.Now,
		logger: logger.With("component", "handler.analytics"),
	}
}

// SetClock overrides the time source.
func (h *AnalyticsHandler) SetClock(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// analyticsQuery is the parsed ?range=&qrCodeId=&profileId=&includeDeleted= set.
type analyticsQuery struct {
	scope aggregation.Scope
	rng   aggregation.Range
}

func parseAnalyticsQuery(r *http.Request) (analyticsQuery, error) {
	query := r.URL.Query()

	rng, err := aggregation.ParseRange(query.Get("range"))
	if err != nil {
		return analyticsQuery{}, err
	}
	includeDeleted := false
	if v := query.Get("includeDeleted"); v != "" {
		includeDeleted, err = strconv.ParseBool(v)
		if err != nil {
			return analyticsQuery{}, errInvalidQuery
		}
	}

	return analyticsQuery{
		scope: aggregation.Scope{
			OwnerID:        auth.OwnerIDFromContext(r.Context()),
			ProfileID:      query.Get("profileId"),
			QrCodeID:       query.Get("qrCodeId"),
			IncludeDeleted: includeDeleted,
		},
		rng: rng,
	}, nil
}

// Analytics handles GET /api/v1/analytics.
func (h *AnalyticsHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	report, _, ok := h.report(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Dashboard handles GET /api/v1/dashboard.
func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	report, qrs, ok := h.report(w, r)
	if !ok {
		return
	}

	window := model.Window{From: report.From, To: report.To}
	ranked, err := h.engine.RankQrCodes(r.Context(), qrs, window, aggregation.TopPerformerLimit)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboard.Compose(report, qrs, ranked, h.now()))
}

// RankProfiles handles GET /api/v1/rankings/profiles.
func (h *AnalyticsHandler) RankProfiles(w http.ResponseWriter, r *http.Request) {
	q, err := parseAnalyticsQuery(r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	profiles, err := h.scopes.Profiles(r.Context(), q.scope.OwnerID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	qrs, err := h.scopes.Resolve(r.Context(), aggregation.Scope{
		OwnerID:        q.scope.OwnerID,
		IncludeDeleted: q.scope.IncludeDeleted,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	ranked, err := h.engine.RankProfiles(r.Context(), profiles, qrs, q.rng.Window(h.now()), aggregation.ProfileLimit)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"range": q.rng,
		"data":  ranked,
	})
}

// Export handles GET /api/v1/analytics/export.xlsx.
func (h *AnalyticsHandler) Export(w http.ResponseWriter, r *http.Request) {
	report, _, ok := h.report(w, r)
	if !ok {
		return
	}

	data, err := export.Workbook(report)
	if err != nil {
		h.handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(report)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// report resolves the request scope and builds its report. It writes the
// error response itself and reports false on failure.
func (h *AnalyticsHandler) report(w http.ResponseWriter, r *http.Request) (*aggregation.Report, []*model.QrCode, bool) {
	q, err := parseAnalyticsQuery(r)
	if err != nil {
		h.handleError(w, err)
		return nil, nil, false
	}

	qrs, err := h.scopes.Resolve(r.Context(), q.scope)
	if err != nil {
		h.handleError(w, err)
		return nil, nil, false
	}

	report, err := h.engine.Report(r.Context(), aggregation.IDs(qrs), q.rng, h.now())
	if err != nil {
		h.handleError(w, err)
		return nil, nil, false
	}
	return report, qrs, true
}

func (h *AnalyticsHandler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, aggregation.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "INVALID_RANGE", "range must be one of week, month, year")
	case errors.Is(err, errInvalidQuery):
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "includeDeleted must be a boolean")
	case errors.Is(err, aggregation.ErrScopeNotFound):
		writeError(w, http.StatusNotFound, "SCOPE_NOT_FOUND", "QR code or profile not found")
	default:
		h.logger.Error("analytics_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
