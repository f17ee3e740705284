package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/repository"
)

const (
	maxDestinationLength = 2048
	defaultPageSize      = 20
	maxPageSize          = 100
)

// CreateInput defines input for creating a QR code.
type CreateInput struct {
	OwnerID          string
	Name             string
	TargetURL        string
	FallbackURL      *string
	ProfileID        *string
	IsDynamic        *bool
	CampaignType     model.CampaignType
	StartDate        *time.Time
	EndDate          *time.Time
	RedirectBehavior model.RedirectBehavior
}

// UpdateInput defines input for updating a QR code. Nil fields are left
// unchanged; an empty FallbackURL or ProfileID clears it.
type UpdateInput struct {
	ID               string
	OwnerID          string
	Name             *string
	TargetURL        *string
	FallbackURL      *string
	ProfileID        *string
	CampaignType     *model.CampaignType
	StartDate        *time.Time
	EndDate          *time.Time
	ClearStartDate   bool
	ClearEndDate     bool
	RedirectBehavior *model.RedirectBehavior
}

// ListInput defines input for listing QR codes.
type ListInput struct {
	OwnerID        string
	ProfileID      string
	CampaignType   model.CampaignType
	IncludeDeleted bool
	Cursor         string
	Limit          int
}

// ListOutput is one page of QR codes.
type ListOutput struct {
	QrCodes    []*model.QrCode
	NextCursor string
	HasMore    bool
}

// Create validates input, assigns a unique code and stores the QR code.
func (s *QrCodeService) Create(ctx context.Context, input CreateInput) (*model.QrCode, error) {
	if err := validateDestination(input.TargetURL); err != nil {
		return nil, fmt.Errorf("%w: target_url %v", ErrInvalidInput, err)
	}
	fallback, err := optionalDestination(input.FallbackURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fallback_url %v", ErrInvalidInput, err)
	}

	campaignType := input.CampaignType
	if campaignType == "" {
		campaignType = model.CampaignStandard
	}
	behavior := input.RedirectBehavior
	if behavior == "" {
		behavior = model.RedirectAlwaysPrimary
	}
	if err := validateCampaign(campaignType, behavior, input.StartDate, input.EndDate); err != nil {
		return nil, err
	}

	profileID, err := s.ownedProfile(ctx, input.OwnerID, input.ProfileID)
	if err != nil {
		return nil, err
	}

	dynamic := true
	if input.IsDynamic != nil {
		dynamic = *input.IsDynamic
	}

	now := s.now().UTC()
	qr := &model.QrCode{
		ID:               ulid.Make().String(),
		OwnerID:          input.OwnerID,
		ProfileID:        profileID,
		Name:             strings.TrimSpace(input.Name),
		TargetURL:        strings.TrimSpace(input.TargetURL),
		FallbackURL:      fallback,
		IsDynamic:        dynamic,
		CampaignType:     campaignType,
		StartDate:        utc(input.StartDate),
		EndDate:          utc(input.EndDate),
		RedirectBehavior: behavior,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.insertWithUniqueCode(ctx, qr); err != nil {
		return nil, err
	}

	s.metrics.IncQrCodeCreated()
	s.logger.Info("qr code created", "qr_code_id", qr.ID, "code", qr.Code, "owner_id", qr.OwnerID)
	return qr, nil
}

// Get returns an owner's QR code, soft-deleted or not.
func (s *QrCodeService) Get(ctx context.Context, ownerID, id string) (*model.QrCode, error) {
	qr, err := s.store.GetQrCodeByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrQrCodeNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if qr.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return qr, nil
}

// List returns one page of an owner's QR codes, newest first.
func (s *QrCodeService) List(ctx context.Context, input ListInput) (*ListOutput, error) {
	if input.Limit <= 0 || input.Limit > maxPageSize {
		input.Limit = defaultPageSize
	}
	if input.CampaignType != "" && !input.CampaignType.IsValid() {
		return nil, fmt.Errorf("%w: campaign_type", ErrInvalidInput)
	}

	filter := repository.QrCodeFilter{
		OwnerID:        input.OwnerID,
		ProfileID:      input.ProfileID,
		CampaignType:   input.CampaignType,
		IncludeDeleted: input.IncludeDeleted,
	}
	qrs, next, err := s.store.ListQrCodesPage(ctx, filter, input.Cursor, input.Limit)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return nil, fmt.Errorf("%w: cursor", ErrInvalidInput)
		}
		return nil, err
	}

	return &ListOutput{QrCodes: qrs, NextCursor: next, HasMore: next != ""}, nil
}

// Update applies input to a live QR code and evicts its cache entry.
func (s *QrCodeService) Update(ctx context.Context, input UpdateInput) (*model.QrCode, error) {
	qr, err := s.Get(ctx, input.OwnerID, input.ID)
	if err != nil {
		return nil, err
	}
	if qr.IsDeleted() {
		return nil, ErrNotFound
	}

	if input.Name != nil {
		qr.Name = strings.TrimSpace(*input.Name)
	}
	if input.TargetURL != nil {
		target := strings.TrimSpace(*input.TargetURL)
		if !qr.IsDynamic && target != qr.TargetURL {
			return nil, ErrImmutableDestination
		}
		if err := validateDestination(target); err != nil {
			return nil, fmt.Errorf("%w: target_url %v", ErrInvalidInput, err)
		}
		qr.TargetURL = target
	}
	if input.FallbackURL != nil {
		qr.FallbackURL, err = optionalDestination(input.FallbackURL)
		if err != nil {
			return nil, fmt.Errorf("%w: fallback_url %v", ErrInvalidInput, err)
		}
	}
	if input.ProfileID != nil {
		qr.ProfileID, err = s.ownedProfile(ctx, input.OwnerID, input.ProfileID)
		if err != nil {
			return nil, err
		}
	}
	if input.CampaignType != nil {
		qr.CampaignType = *input.CampaignType
	}
	if input.RedirectBehavior != nil {
		qr.RedirectBehavior = *input.RedirectBehavior
	}
	switch {
	case input.ClearStartDate:
		qr.StartDate = nil
	case input.StartDate != nil:
		qr.StartDate = utc(input.StartDate)
	}
	switch {
	case input.ClearEndDate:
		qr.EndDate = nil
	case input.EndDate != nil:
		qr.EndDate = utc(input.EndDate)
	}
	if err := validateCampaign(qr.CampaignType, qr.RedirectBehavior, qr.StartDate, qr.EndDate); err != nil {
		return nil, err
	}

	qr.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateQrCode(ctx, qr); err != nil {
		if errors.Is(err, repository.ErrQrCodeNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.metrics.IncQrCodeUpdated()
	s.invalidate(ctx, qr.Code)
	return qr, nil
}

// Delete soft-deletes a QR code, or purges it and its scan history when hard.
func (s *QrCodeService) Delete(ctx context.Context, ownerID, id string, hard bool) error {
	qr, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if hard {
		err = s.store.HardDeleteQrCode(ctx, id)
	} else {
		err = s.store.SoftDeleteQrCode(ctx, id, s.now().UTC())
	}
	if err != nil {
		if errors.Is(err, repository.ErrQrCodeNotFound) {
			return ErrNotFound
		}
		return err
	}

	s.metrics.IncQrCodeDeleted()
	s.invalidate(ctx, qr.Code)
	s.logger.Info("qr code deleted", "qr_code_id", id, "hard", hard)
	return nil
}

func (s *QrCodeService) ownedProfile(ctx context.Context, ownerID string, profileID *string) (*string, error) {
	if profileID == nil || *profileID == "" {
		return nil, nil
	}
	p, err := s.store.GetProfileByID(ctx, *profileID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, ErrProfileNotFound
	}
	id := p.ID
	return &id, nil
}

func validateCampaign(campaignType model.CampaignType, behavior model.RedirectBehavior, start, end *time.Time) error {
	if !campaignType.IsValid() {
		return fmt.Errorf("%w: campaign_type %q", ErrInvalidInput, campaignType)
	}
	if !behavior.IsValid() {
		return fmt.Errorf("%w: redirect_behavior %q", ErrInvalidInput, behavior)
	}
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("%w: end_date before start_date", ErrInvalidInput)
	}
	return nil
}

// validateDestination accepts base-relative paths, http(s) URLs, mailto:
// and tel: links, and scheme-less hosts that resolve as https.
func validateDestination(dest string) error {
	dest = strings.TrimSpace(dest)
	switch {
	case dest == "":
		return errors.New("is required")
	case len(dest) > maxDestinationLength:
		return errors.New("is too long")
	case strings.HasPrefix(dest, "/"):
		return nil
	}

	lower := strings.ToLower(dest)
	if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return nil
	}
	if !strings.Contains(dest, "://") {
		dest = "https://" + dest
	}

	parsed, err := url.Parse(dest)
	if err != nil {
		return errors.New("is not a valid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("must have a host")
	}
	return nil
}

func optionalDestination(dest *string) (*string, error) {
	if dest == nil || strings.TrimSpace(*dest) == "" {
		return nil, nil
	}
	if err := validateDestination(*dest); err != nil {
		return nil, err
	}
	v := strings.TrimSpace(*dest)
	return &v, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
