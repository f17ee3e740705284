package model

import "time"

// Unknown is the placeholder for any categorical or raw field that could not be determined.
const Unknown = "unknown"

// UnknownCategory is the display value for unparsed device, browser, OS and place fields.
const UnknownCategory = "Unknown"

// Device categories produced by the identity parser.
const (
	DeviceMobile  = "Mobile"
	DeviceDesktop = "Desktop"
	DeviceTablet  = "Tablet"
	DeviceUnknown = UnknownCategory
)

// Location is a best-effort geographic position of a scan.
// Latitude and Longitude are nil when unresolved so maps never plot a false 0,0.
type Location struct {
	City      string   `json:"city"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// UnresolvedLocation returns the sentinel used when geolocation fails.
func UnresolvedLocation() Location {
	return Location{City: UnknownCategory, Country: UnknownCategory}
}

// IsResolved reports whether the location carries coordinates.
func (l Location) IsResolved() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// ScanEvent is an immutable record of one QR code scan.
type ScanEvent struct {
	ID        string    `json:"id"`
	EventID   string    `json:"-"` // stream message id; empty for inline recording
	QrCodeID  string    `json:"qr_code_id"`
	Timestamp time.Time `json:"timestamp"`
	ClientIP  string    `json:"client_ip"`
	UserAgent string    `json:"user_agent"`
	Referrer  string    `json:"referrer"`
	Device    string    `json:"device"`
	Browser   string    `json:"browser"`
	OS        string    `json:"os"`
	Location  Location  `json:"location"`
}
