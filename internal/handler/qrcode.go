package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scanpulse/scanpulse/internal/auth"
	"github.com/scanpulse/scanpulse/internal/handler/dto"
	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/service"
)

// QrCodeHandler handles HTTP requests for QR code operations.
type QrCodeHandler struct {
	svc    *service.QrCodeService
	now    func() time.Time
	logger *slog.Logger
}

// NewQrCodeHandler creates a new QrCodeHandler.
func NewQrCodeHandler(svc *service.QrCodeService, logger *slog.Logger) *QrCodeHandler {
	return &QrCodeHandler{
		svc:    svc,
		now:    time.Now,
		logger: logger.With("component", "handler.qrcode"),
	}
}

// SetClock overrides the time source used for status badges.
func (h *QrCodeHandler) SetClock(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// Create handles POST /api/v1/qrcodes.
func (h *QrCodeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateQrCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	qr, err := h.svc.Create(r.Context(), service.CreateInput{
		OwnerID:          auth.OwnerIDFromContext(r.Context()),
		Name:             req.Name,
		TargetURL:        req.TargetURL,
		FallbackURL:      req.FallbackURL,
		ProfileID:        req.ProfileID,
		IsDynamic:        req.IsDynamic,
		CampaignType:     model.CampaignType(req.CampaignType),
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		RedirectBehavior: model.RedirectBehavior(req.RedirectBehavior),
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.response(qr))
}

// Get handles GET /api/v1/qrcodes/{id}.
func (h *QrCodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	qr, err := h.svc.Get(r.Context(), auth.OwnerIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.response(qr))
}

// List handles GET /api/v1/qrcodes.
func (h *QrCodeHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	input := service.ListInput{
		OwnerID:      auth.OwnerIDFromContext(r.Context()),
		ProfileID:    query.Get("profile_id"),
		CampaignType: model.CampaignType(query.Get("campaign_type")),
		Cursor:       query.Get("cursor"),
	}
	if l := query.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be an integer")
			return
		}
		input.Limit = limit
	}
	includeDeleted, err := parseBool(query.Get("include_deleted"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "include_deleted must be a boolean")
		return
	}
	input.IncludeDeleted = includeDeleted

	result, err := h.svc.List(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToQrCodeListResponse(result.QrCodes, h.svc.ShortURL, h.now(), result.NextCursor, result.HasMore))
}

// Update handles PATCH /api/v1/qrcodes/{id}.
func (h *QrCodeHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateQrCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	input := service.UpdateInput{
		ID:             chi.URLParam(r, "id"),
		OwnerID:        auth.OwnerIDFromContext(r.Context()),
		Name:           req.Name,
		TargetURL:      req.TargetURL,
		FallbackURL:    req.FallbackURL,
		ProfileID:      req.ProfileID,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		ClearStartDate: req.ClearStartDate,
		ClearEndDate:   req.ClearEndDate,
	}
	if req.CampaignType != nil {
		ct := model.CampaignType(*req.CampaignType)
		input.CampaignType = &ct
	}
	if req.RedirectBehavior != nil {
		rb := model.RedirectBehavior(*req.RedirectBehavior)
		input.RedirectBehavior = &rb
	}

	qr, err := h.svc.Update(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("qr_code_updated", "qr_code_id", qr.ID, "code", qr.Code)
	writeJSON(w, http.StatusOK, h.response(qr))
}

// Delete handles DELETE /api/v1/qrcodes/{id}. ?hard=true purges the code
// and its scan history.
func (h *QrCodeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hard, err := parseBool(r.URL.Query().Get("hard"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "hard must be a boolean")
		return
	}

	if err := h.svc.Delete(r.Context(), auth.OwnerIDFromContext(r.Context()), chi.URLParam(r, "id"), hard); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Image handles GET /api/v1/qrcodes/{id}/image.png?size=256.
func (h *QrCodeHandler) Image(w http.ResponseWriter, r *http.Request) {
	size := 0
	if s := r.URL.Query().Get("size"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "size must be an integer")
			return
		}
		size = parsed
	}

	png, err := h.svc.RenderPNG(r.Context(), auth.OwnerIDFromContext(r.Context()), chi.URLParam(r, "id"), size)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *QrCodeHandler) response(qr *model.QrCode) dto.QrCodeResponse {
	return dto.ToQrCodeResponse(qr, h.svc.ShortURL(qr.Code), h.now())
}

// handleServiceError maps service errors to HTTP responses.
func (h *QrCodeHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "QR_NOT_FOUND", "QR code not found")
	case errors.Is(err, service.ErrProfileNotFound):
		writeError(w, http.StatusUnprocessableEntity, "PROFILE_NOT_FOUND", "Profile not found")
	case errors.Is(err, service.ErrImmutableDestination):
		writeError(w, http.StatusConflict, "STATIC_DESTINATION", "Static QR codes cannot change destination")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, service.ErrCodeGeneration):
		h.logger.Error("code_generation_exhausted", "error", err)
		writeError(w, http.StatusServiceUnavailable, "CODE_GENERATION_FAILED", "Could not allocate a short code, retry")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// parseBool treats an empty value as false.
func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
