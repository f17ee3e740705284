package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/scanpulse/scanpulse/internal/auth"
	"github.com/scanpulse/scanpulse/internal/handler/dto"
	"github.com/scanpulse/scanpulse/internal/service"
)

// ProfileHandler handles HTTP requests for profiles.
type ProfileHandler struct {
	svc    *service.QrCodeService
	logger *slog.Logger
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(svc *service.QrCodeService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		svc:    svc,
		logger: logger.With("component", "handler.profile"),
	}
}

// List handles GET /api/v1/profiles.
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.svc.ListProfiles(r.Context(), auth.OwnerIDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("list_profiles_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	data := make([]dto.ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		data = append(data, dto.ToProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Create handles POST /api/v1/profiles.
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	p, err := h.svc.CreateProfile(r.Context(), auth.OwnerIDFromContext(r.Context()), req.Name, req.Slug)
	if err != nil {
		if errors.Is(err, service.ErrSlugExists) {
			writeError(w, http.StatusConflict, "SLUG_TAKEN", "Profile slug already exists")
			return
		}
		h.logger.Error("create_profile_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	writeJSON(w, http.StatusCreated, dto.ToProfileResponse(p))
}
