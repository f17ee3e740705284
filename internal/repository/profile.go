package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/scanpulse/scanpulse/internal/model"
)

// CreateProfile inserts a profile.
func (r *Repository) CreateProfile(ctx context.Context, p *model.Profile) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (id, owner_id, name, slug, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.OwnerID, p.Name, p.Slug, p.CreatedAt,
	)
	if err != nil {
		if uniqueViolation(err) != "" {
			return ErrSlugExists
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// GetProfileByID retrieves a profile.
func (r *Repository) GetProfileByID(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, slug, created_at FROM profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Slug, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// ListProfilesByOwner returns an owner's profiles by creation time.
func (r *Repository) ListProfilesByOwner(ctx context.Context, ownerID string) ([]*model.Profile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, owner_id, name, slug, created_at FROM profiles WHERE owner_id = $1 ORDER BY created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	profiles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Profile, error) {
		var p model.Profile
		err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Slug, &p.CreatedAt)
		return &p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect profiles: %w", err)
	}
	return profiles, nil
}
