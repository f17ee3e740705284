package aggregation

import (
	"fmt"
	"time"

	"github.com/scanpulse/scanpulse/internal/model"
)

// Range is the time-range token of analytics queries.
type Range string

const (
	RangeWeek  Range = "week"
	RangeMonth Range = "month"
	RangeYear  Range = "year"
)

const (
	dayKeyLayout   = "2006-01-02"
	monthKeyLayout = "2006-01"
)

// ParseRange validates a range token. Empty means week.
func ParseRange(s string) (Range, error) {
	switch Range(s) {
	case "":
		return RangeWeek, nil
	case RangeWeek, RangeMonth, RangeYear:
		return Range(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRange, s)
}

// Buckets is the number of timeline points of the range.
func (r Range) Buckets() int {
	switch r {
	case RangeMonth:
		return 30
	case RangeYear:
		return 12
	}
	return 7
}

// Monthly reports whether the range buckets by calendar month.
func (r Range) Monthly() bool {
	return r == RangeYear
}

// Window returns the half-open span covered at now, ending with the current
// UTC day (or month, for year).
func (r Range) Window(now time.Time) model.Window {
	now = now.UTC()
	if r.Monthly() {
		next := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		return model.Window{From: next.AddDate(0, -r.Buckets(), 0), To: next}
	}
	tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return model.Window{From: tomorrow.AddDate(0, 0, -r.Buckets()), To: tomorrow}
}

// Previous returns the window of equal length immediately before Window(now).
func (r Range) Previous(now time.Time) model.Window {
	cur := r.Window(now)
	if r.Monthly() {
		return model.Window{From: cur.From.AddDate(0, -r.Buckets(), 0), To: cur.From}
	}
	return model.Window{From: cur.From.AddDate(0, 0, -r.Buckets()), To: cur.From}
}

// Keys returns the bucket keys of Window(now), oldest first.
func (r Range) Keys(now time.Time) []string {
	w := r.Window(now)
	keys := make([]string, 0, r.Buckets())
	for i := 0; i < r.Buckets(); i++ {
		if r.Monthly() {
			keys = append(keys, w.From.AddDate(0, i, 0).Format(monthKeyLayout))
		} else {
			keys = append(keys, w.From.AddDate(0, 0, i).Format(dayKeyLayout))
		}
	}
	return keys
}

// Label renders a bucket key for display: "Mon" for week, "Jan 2" for month
// and "Jan" for year. Unparseable keys are returned unchanged.
func (r Range) Label(key string) string {
	if r.Monthly() {
		t, err := time.Parse(monthKeyLayout, key)
		if err != nil {
			return key
		}
		return t.Format("Jan")
	}

	t, err := time.Parse(dayKeyLayout, key)
	if err != nil {
		return key
	}
	if r == RangeMonth {
		return t.Format("Jan 2")
	}
	return t.Format("Mon")
}
