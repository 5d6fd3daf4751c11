package match

import (
	"math"
	"time"
)

// dateSteps maps a maximum day distance to its proximity score. The table is
// ordered; the first step whose limit covers the distance wins.
var dateSteps = []struct {
	maxDays int
	score   float64
}{
	{0, 10},
	{1, 9},
	{3, 8},
	{5, 7},
	{7, 6},
	{14, 4},
	{21, 3},
	{30, 2},
	{45, 1},
}

// DaysBetween returns the absolute number of calendar days between a and b.
// Times are compared by their calendar date in UTC.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Abs(da.Sub(db).Hours() / 24))
}

// DateProximityDays scores a day distance on a 0–10 step scale.
func DateProximityDays(days int) float64 {
	if days < 0 {
		days = -days
	}
	for _, step := range dateSteps {
		if days <= step.maxDays {
			return step.score
		}
	}
	return 0
}

// DateProximity scores how close two occurrence dates are. A zero date on
// either side scores 0.
func DateProximity(a, b time.Time) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	return DateProximityDays(DaysBetween(a, b))
}
