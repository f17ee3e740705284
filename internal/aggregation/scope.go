package aggregation

import (
	"context"
	"errors"

	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/repository"
)

// Scope selects the QR codes an aggregation covers. QrCodeID narrows to one
// code, ProfileID to one profile, otherwise every code of OwnerID.
type Scope struct {
	OwnerID        string
	ProfileID      string
	QrCodeID       string
	IncludeDeleted bool
}

// ScopeStore reads the records scopes are resolved from.
type ScopeStore interface {
	GetQrCodeByID(ctx context.Context, id string) (*model.QrCode, error)
	GetProfileByID(ctx context.Context, id string) (*model.Profile, error)
	ListQrCodes(ctx context.Context, filter repository.QrCodeFilter) ([]*model.QrCode, error)
	ListProfilesByOwner(ctx context.Context, ownerID string) ([]*model.Profile, error)
}

// ScopeResolver turns a Scope into the owner's QR codes.
type ScopeResolver struct {
	store ScopeStore
}

// NewScopeResolver creates a ScopeResolver.
func NewScopeResolver(store ScopeStore) *ScopeResolver {
	return &ScopeResolver{store: store}
}

// Resolve returns the QR codes in scope. Records the owner does not own are
// ErrScopeNotFound, as is a soft-deleted single code unless IncludeDeleted.
func (r *ScopeResolver) Resolve(ctx context.Context, scope Scope) ([]*model.QrCode, error) {
	if scope.QrCodeID != "" {
		qr, err := r.store.GetQrCodeByID(ctx, scope.QrCodeID)
		if err != nil {
			if errors.Is(err, repository.ErrQrCodeNotFound) {
				return nil, ErrScopeNotFound
			}
			return nil, err
		}
		if qr.OwnerID != scope.OwnerID || (qr.IsDeleted() && !scope.IncludeDeleted) {
			return nil, ErrScopeNotFound
		}
		if scope.ProfileID != "" && (qr.ProfileID == nil || *qr.ProfileID != scope.ProfileID) {
			return nil, ErrScopeNotFound
		}
		return []*model.QrCode{qr}, nil
	}

	filter := repository.QrCodeFilter{OwnerID: scope.OwnerID, IncludeDeleted: scope.IncludeDeleted}
	if scope.ProfileID != "" {
		if _, err := r.Profile(ctx, scope.OwnerID, scope.ProfileID); err != nil {
			return nil, err
		}
		filter.ProfileID = scope.ProfileID
	}
	return r.store.ListQrCodes(ctx, filter)
}

// Profile returns profileID when ownerID owns it.
func (r *ScopeResolver) Profile(ctx context.Context, ownerID, profileID string) (*model.Profile, error) {
	p, err := r.store.GetProfileByID(ctx, profileID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrScopeNotFound
		}
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, ErrScopeNotFound
	}
	return p, nil
}

// Profiles returns the owner's profiles.
func (r *ScopeResolver) Profiles(ctx context.Context, ownerID string) ([]*model.Profile, error) {
	return r.store.ListProfilesByOwner(ctx, ownerID)
}
