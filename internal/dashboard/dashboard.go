// Package dashboard shapes aggregation results into dashboard widgets.
// Everything here is pure; no function touches storage.
package dashboard

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/scanpulse/scanpulse/internal/aggregation"
	"github.com/scanpulse/scanpulse/internal/model"
)

// SparklinePoints is the number of points shown in KPI sparklines.
const SparklinePoints = 12

// Campaign badge statuses.
const (
	StatusAlwaysOn  = "always_on"
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusEnded     = "ended"
	StatusArchived  = "archived"
)

// Badge describes a QR code's campaign state.
type Badge struct {
	Status string `json:"status"`
	Label  string `json:"label"`
	Tone   string `json:"tone"`
}

// KPICard is one headline number.
type KPICard struct {
	Key       string  `json:"key"`
	Label     string  `json:"label"`
	Value     int64   `json:"value"`
	Display   string  `json:"display"`
	Delta     string  `json:"delta,omitempty"`
	Sparkline []int64 `json:"sparkline,omitempty"`
}

// Share is a breakdown bucket with its percentage of the total.
type Share struct {
	Key     string  `json:"key"`
	Label   string  `json:"label"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// MapMarker is a plottable location.
type MapMarker struct {
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Count     int64   `json:"count"`
}

// CampaignCard summarizes one QR code.
type CampaignCard struct {
	QrCodeID   string `json:"qr_code_id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Scans      int64  `json:"scans"`
	TotalScans int64  `json:"total_scans"`
	LastScan   string `json:"last_scan"`
	Badge      Badge  `json:"badge"`
}

// View is the full owner dashboard.
type View struct {
	Range            aggregation.Range           `json:"range"`
	KPIs             []KPICard                   `json:"kpis"`
	Timeline         []aggregation.TimelinePoint `json:"timeline"`
	Devices          []Share                     `json:"devices"`
	Browsers         []Share                     `json:"browsers"`
	OperatingSystems []Share                     `json:"operating_systems"`
	Locations        []model.LocationBucket      `json:"locations"`
	Markers          []MapMarker                 `json:"markers"`
	TopPerformers    []CampaignCard              `json:"top_performers"`
	GeneratedAt      time.Time                   `json:"generated_at"`
}

// Compose assembles the dashboard from a report, the scope's QR codes and
// their ranking.
func Compose(report *aggregation.Report, qrs []*model.QrCode, ranked []aggregation.RankedQrCode, now time.Time) View {
	return View{
		Range:            report.Range,
		KPIs:             KPICards(report, qrs, now),
		Timeline:         report.Timeline,
		Devices:          Shares(report.Devices),
		Browsers:         Shares(report.Browsers),
		OperatingSystems: Shares(report.OperatingSystems),
		Locations:        report.Locations,
		Markers:          MapMarkers(report.Locations),
		TopPerformers:    CampaignCards(qrs, ranked, now),
		GeneratedAt:      now.UTC(),
	}
}

// KPICards returns total scans, unique visitors, growth and active campaigns.
func KPICards(report *aggregation.Report, qrs []*model.QrCode, now time.Time) []KPICard {
	active := int64(0)
	for _, qr := range qrs {
		if status := CampaignStatus(qr, now).Status; status == StatusActive {
			active++
		}
	}

	return []KPICard{
		{
			Key:       "total_scans",
			Label:     title("total scans"),
			Value:     report.TotalScans,
			Display:   FormatCount(report.TotalScans),
			Delta:     FormatGrowth(report.Comparison.Growth),
			Sparkline: Sparkline(report.Timeline, SparklinePoints),
		},
		{
			Key:     "unique_visitors",
			Label:   title("unique visitors"),
			Value:   report.UniqueVisitors,
			Display: FormatCount(report.UniqueVisitors),
		},
		{
			Key:     "growth",
			Label:   title("growth"),
			Value:   int64(report.Comparison.Growth),
			Display: FormatGrowth(report.Comparison.Growth),
		},
		{
			Key:     "active_campaigns",
			Label:   title("active campaigns"),
			Value:   active,
			Display: FormatCount(active),
		},
	}
}

// Sparkline returns the counts of the last n timeline points.
func Sparkline(timeline []aggregation.TimelinePoint, n int) []int64 {
	if n > len(timeline) {
		n = len(timeline)
	}
	out := make([]int64, 0, n)
	for _, p := range timeline[len(timeline)-n:] {
		out = append(out, p.Count)
	}
	return out
}

// Shares converts buckets into percentages of their sum, one decimal.
func Shares(buckets []model.Bucket) []Share {
	var total int64
	for _, b := range buckets {
		total += b.Count
	}

	out := make([]Share, 0, len(buckets))
	for _, b := range buckets {
		pct := 0.0
		if total > 0 {
			pct = math.Round(float64(b.Count)/float64(total)*1000) / 10
		}
		out = append(out, Share{Key: b.Key, Label: b.Key, Count: b.Count, Percent: pct})
	}
	return out
}

// MapMarkers keeps the locations that have coordinates.
func MapMarkers(locations []model.LocationBucket) []MapMarker {
	out := make([]MapMarker, 0, len(locations))
	for _, loc := range locations {
		if loc.Latitude == nil || loc.Longitude == nil {
			continue
		}
		out = append(out, MapMarker{
			City:      loc.City,
			Country:   loc.Country,
			Latitude:  *loc.Latitude,
			Longitude: *loc.Longitude,
			Count:     loc.Count,
		})
	}
	return out
}

// CampaignCards builds cards in ranked order. Ranked ids missing from qrs
// are skipped.
func CampaignCards(qrs []*model.QrCode, ranked []aggregation.RankedQrCode, now time.Time) []CampaignCard {
	byID := make(map[string]*model.QrCode, len(qrs))
	for _, qr := range qrs {
		byID[qr.ID] = qr
	}

	cards := make([]CampaignCard, 0, len(ranked))
	for _, r := range ranked {
		qr, ok := byID[r.QrCodeID]
		if !ok {
			continue
		}
		cards = append(cards, CampaignCard{
			QrCodeID:   qr.ID,
			Code:       qr.Code,
			Name:       qr.Name,
			Scans:      r.Count,
			TotalScans: qr.TotalScans,
			LastScan:   RelativeTime(qr.LastScanAt, now),
			Badge:      CampaignStatus(qr, now),
		})
	}
	return cards
}

// CampaignStatus derives the badge of qr at now.
func CampaignStatus(qr *model.QrCode, now time.Time) Badge {
	switch {
	case qr.IsDeleted():
		return badge(StatusArchived, "muted")
	case qr.CampaignType != model.CampaignMarketing:
		return badge(StatusAlwaysOn, "success")
	case qr.StartDate != nil && now.Before(*qr.StartDate):
		return badge(StatusScheduled, "info")
	case qr.EndDate != nil && now.After(*qr.EndDate):
		return badge(StatusEnded, "warning")
	}
	return badge(StatusActive, "success")
}

func badge(status, tone string) Badge {
	return Badge{
		Status: status,
		Label:  title(strings.ReplaceAll(status, "_", " ")),
		Tone:   tone,
	}
}

// RelativeTime renders t relative to now, e.g. "3h ago". A nil t is
// "never"; future times are "just now".
func RelativeTime(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}

	d := now.Sub(*t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	}

	days := int(d / (24 * time.Hour))
	switch {
	case days < 30:
		return fmt.Sprintf("%dd ago", days)
	case days < 365:
		return fmt.Sprintf("%dmo ago", days/30)
	}
	return fmt.Sprintf("%dy ago", days/365)
}

// FormatCount renders n with thousands separators.
func FormatCount(n int64) string {
	return message.NewPrinter(language.English).Sprintf("%d", n)
}

// title upper-cases the first letter of each word. Casers are stateful, so
// one is built per call.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// FormatGrowth renders a growth percentage with its sign.
func FormatGrowth(growth int) string {
	if growth > 0 {
		return fmt.Sprintf("+%d%%", growth)
	}
	return fmt.Sprintf("%d%%", growth)
}
