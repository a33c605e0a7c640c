package features

import "time"

// calendarValues computes the fixed calendar feature set for one step
// timestamp, in the order of calendarFeatures. Timestamps are evaluated in
// UTC so the same instant always yields the same features regardless of the
// process locale.
func calendarValues(ts time.Time) []float64 {
	ts = ts.UTC()
	hour := float64(ts.Hour())
	weekday := float64(ts.Weekday())

	isWeekend := 0.0
	if ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
		isWeekend = 1.0
	}
	isBusinessHours := 0.0
	if isWeekend == 0 && ts.Hour() >= 9 && ts.Hour() < 17 {
		isBusinessHours = 1.0
	}

	return []float64{
		hour,
		weekday,
		float64(ts.Day()),
		float64(int(ts.Month())),
		isWeekend,
		isBusinessHours,
	}
}
