package dto

import (
	"time"

	"github.com/scanpulse/scanpulse/internal/model"
)

// CreateProfileRequest represents the request body for creating a profile.
type CreateProfileRequest struct {
	Name string `json:"name" validate:"required,max=120"`
	Slug string `json:"slug" validate:"required,min=2,max=64,slug"`
}

// ProfileResponse represents a profile in API responses.
type ProfileResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// ToProfileResponse converts a Profile model to its DTO.
func ToProfileResponse(p *model.Profile) ProfileResponse {
	return ProfileResponse{
		ID:        p.ID,
		Name:      p.Name,
		Slug:      p.Slug,
		CreatedAt: p.CreatedAt,
	}
}
