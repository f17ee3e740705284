// Package export renders analytics reports as XLSX workbooks.
package export

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/scanpulse/scanpulse/internal/aggregation"
	"github.com/scanpulse/scanpulse/internal/dashboard"
	"github.com/scanpulse/scanpulse/internal/model"
)

// ContentType is the MIME type of the workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sheet names in workbook order.
const (
	SheetSummary   = "Summary"
	SheetDevices   = "Devices"
	SheetBrowsers  = "Browsers"
	SheetOS        = "Operating Systems"
	SheetLocations = "Locations"
	SheetTimeline  = "Timeline"
)

// Filename names the workbook of report, e.g. scanpulse-week-2024-06-10.xlsx.
func Filename(report *aggregation.Report) string {
	day := report.To.AddDate(0, 0, -1)
	if report.Range.Monthly() {
		day = report.To.Add(-time.Nanosecond)
	}
	return fmt.Sprintf("scanpulse-%s-%s.xlsx", report.Range, day.UTC().Format("2006-01-02"))
}

// Workbook renders report with one sheet per breakdown plus summary and
// timeline sheets.
func Workbook(report *aggregation.Report) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), SheetSummary); err != nil {
		return nil, fmt.Errorf("rename summary sheet: %w", err)
	}
	summary := [][]any{
		{"Metric", "Value"},
		{"Range", string(report.Range)},
		{"From", report.From.UTC().Format(time.RFC3339)},
		{"To", report.To.UTC().Format(time.RFC3339)},
		{"Total scans", report.TotalScans},
		{"Unique visitors", report.UniqueVisitors},
		{"Previous period scans", report.Comparison.Previous},
		{"Growth", dashboard.FormatGrowth(report.Comparison.Growth)},
	}
	if err := writeRows(xl, SheetSummary, summary); err != nil {
		return nil, err
	}

	breakdowns := []struct {
		sheet   string
		header  string
		buckets []model.Bucket
	}{
		{SheetDevices, "Device", report.Devices},
		{SheetBrowsers, "Browser", report.Browsers},
		{SheetOS, "Operating system", report.OperatingSystems},
	}
	for _, b := range breakdowns {
		rows := [][]any{{b.header, "Scans", "Share %"}}
		for _, share := range dashboard.Shares(b.buckets) {
			rows = append(rows, []any{share.Key, share.Count, share.Percent})
		}
		if err := newSheet(xl, b.sheet, rows); err != nil {
			return nil, err
		}
	}

	locations := [][]any{{"City", "Country", "Scans", "Latitude", "Longitude"}}
	for _, loc := range report.Locations {
		locations = append(locations, []any{loc.City, loc.Country, loc.Count, coordinate(loc.Latitude), coordinate(loc.Longitude)})
	}
	if err := newSheet(xl, SheetLocations, locations); err != nil {
		return nil, err
	}

	timeline := [][]any{{"Period", "Label", "Scans"}}
	for _, p := range report.Timeline {
		timeline = append(timeline, []any{p.Key, p.Label, p.Count})
	}
	if err := newSheet(xl, SheetTimeline, timeline); err != nil {
		return nil, err
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func newSheet(xl *excelize.File, name string, rows [][]any) error {
	if _, err := xl.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	return writeRows(xl, name, rows)
}

func writeRows(xl *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := xl.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// coordinate renders a missing coordinate as an empty cell.
func coordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
