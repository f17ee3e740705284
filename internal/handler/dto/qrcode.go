package dto

import (
	"time"

	"github.com/scanpulse/scanpulse/internal/dashboard"
	"github.com/scanpulse/scanpulse/internal/model"
)

// CreateQrCodeRequest represents the request body for creating a QR code.
type CreateQrCodeRequest struct {
	Name             string     `json:"name" validate:"max=200"`
	TargetURL        string     `json:"target_url" validate:"required,max=2048"`
	FallbackURL      *string    `json:"fallback_url,omitempty" validate:"omitempty,max=2048"`
	ProfileID        *string    `json:"profile_id,omitempty" validate:"omitempty,max=64"`
	IsDynamic        *bool      `json:"is_dynamic,omitempty"`
	CampaignType     string     `json:"campaign_type,omitempty" validate:"omitempty,oneof=standard marketing-campaign"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	RedirectBehavior string     `json:"redirect_behavior,omitempty" validate:"omitempty,oneof=always_primary fallback_expired"`
}

// UpdateQrCodeRequest represents the request body for updating a QR code.
// Absent fields are unchanged. An empty fallback_url or profile_id clears it;
// clear_start_date and clear_end_date remove the campaign bounds.
type UpdateQrCodeRequest struct {
	Name             *string    `json:"name,omitempty" validate:"omitempty,max=200"`
	TargetURL        *string    `json:"target_url,omitempty" validate:"omitempty,min=1,max=2048"`
	FallbackURL      *string    `json:"fallback_url,omitempty" validate:"omitempty,max=2048"`
	ProfileID        *string    `json:"profile_id,omitempty" validate:"omitempty,max=64"`
	CampaignType     *string    `json:"campaign_type,omitempty" validate:"omitempty,oneof=standard marketing-campaign"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	ClearStartDate   bool       `json:"clear_start_date,omitempty"`
	ClearEndDate     bool       `json:"clear_end_date,omitempty"`
	RedirectBehavior *string    `json:"redirect_behavior,omitempty" validate:"omitempty,oneof=always_primary fallback_expired"`
}

// QrCodeResponse represents a QR code in API responses.
type QrCodeResponse struct {
	ID               string     `json:"id"`
	Code             string     `json:"code"`
	ShortURL         string     `json:"short_url"`
	ImageURL         string     `json:"image_url"`
	Name             string     `json:"name"`
	ProfileID        *string    `json:"profile_id,omitempty"`
	TargetURL        string     `json:"target_url"`
	FallbackURL      *string    `json:"fallback_url,omitempty"`
	IsDynamic        bool       `json:"is_dynamic"`
	CampaignType     string     `json:"campaign_type"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	RedirectBehavior string     `json:"redirect_behavior"`
	Status           string     `json:"status"`
	TotalScans       int64      `json:"total_scans"`
	LastScanAt       *time.Time `json:"last_scan_at,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// QrCodeListResponse represents a paginated list of QR codes.
type QrCodeListResponse struct {
	Data       []QrCodeResponse `json:"data"`
	Pagination *Pagination      `json:"pagination"`
}

// ToQrCodeResponse converts a QrCode model to its DTO. shortURL is the
// public scan URL of the code.
func ToQrCodeResponse(qr *model.QrCode, shortURL string, now time.Time) QrCodeResponse {
	return QrCodeResponse{
		ID:               qr.ID,
		Code:             qr.Code,
		ShortURL:         shortURL,
		ImageURL:         "/api/v1/qrcodes/" + qr.ID + "/image.png",
		Name:             qr.Name,
		ProfileID:        qr.ProfileID,
		TargetURL:        qr.TargetURL,
		FallbackURL:      qr.FallbackURL,
		IsDynamic:        qr.IsDynamic,
		CampaignType:     string(qr.CampaignType),
		StartDate:        qr.StartDate,
		EndDate:          qr.EndDate,
		RedirectBehavior: string(qr.RedirectBehavior),
		Status:           dashboard.CampaignStatus(qr, now).Status,
		TotalScans:       qr.TotalScans,
		LastScanAt:       qr.LastScanAt,
		DeletedAt:        qr.DeletedAt,
		CreatedAt:        qr.CreatedAt,
		UpdatedAt:        qr.UpdatedAt,
	}
}

// ToQrCodeListResponse converts one page of QR codes.
func ToQrCodeListResponse(qrs []*model.QrCode, shortURL func(code string) string, now time.Time, nextCursor string, hasMore bool) QrCodeListResponse {
	data := make([]QrCodeResponse, 0, len(qrs))
	for _, qr := range qrs {
		data = append(data, ToQrCodeResponse(qr, shortURL(qr.Code), now))
	}
	return QrCodeListResponse{
		Data: data,
		Pagination: &Pagination{
			NextCursor: nextCursor,
			HasMore:    hasMore,
		},
	}
}
