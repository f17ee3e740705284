package service

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/repository"
)

// CreateProfile stores a new profile for ownerID.
func (s *QrCodeService) CreateProfile(ctx context.Context, ownerID, name, slug string) (*model.Profile, error) {
	p := &model.Profile{
		ID:        ulid.Make().String(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(name),
		Slug:      strings.ToLower(strings.TrimSpace(slug)),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, repository.ErrSlugExists) {
			return nil, ErrSlugExists
		}
		return nil, err
	}
	return p, nil
}

// ListProfiles returns the owner's profiles.
func (s *QrCodeService) ListProfiles(ctx context.Context, ownerID string) ([]*model.Profile, error) {
	return s.store.ListProfilesByOwner(ctx, ownerID)
}
