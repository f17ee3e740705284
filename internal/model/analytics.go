package model

import "time"

// Window is a half-open [From, To) time range in UTC.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Dimension is a categorical ScanEvent field that can be grouped on.
type Dimension string

const (
	DimensionDevice  Dimension = "device"
	DimensionBrowser Dimension = "browser"
	DimensionOS      Dimension = "os"
)

// IsValid checks if the dimension is known.
func (d Dimension) IsValid() bool {
	return d == DimensionDevice || d == DimensionBrowser || d == DimensionOS
}

// Value returns the event's value for d.
func (e *ScanEvent) Value(d Dimension) string {
	switch d {
	case DimensionDevice:
		return e.Device
	case DimensionBrowser:
		return e.Browser
	case DimensionOS:
		return e.OS
	}
	return UnknownCategory
}

// Bucket is one group of a categorical breakdown.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// LocationBucket groups scans by city and country. Coordinates are the mean
// of the grouped events that had any, nil when none did.
type LocationBucket struct {
	City      string   `json:"city"`
	Country   string   `json:"country"`
	Count     int64    `json:"count"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}
