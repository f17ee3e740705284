package aggregation

import "math"

// Growth returns the period-over-period change in percent, rounded half away
// from zero. With no previous activity it is 100 for any new activity, else 0.
func Growth(current, previous int64) int {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return int(math.Round(float64(current-previous) / float64(previous) * 100))
}
