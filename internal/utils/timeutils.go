package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// AlignToStep snaps a timestamp down onto the discrete step grid so that
// feature timestamps line up with range-query sample timestamps.
func AlignToStep(ts time.Time, step time.Duration) time.Time {
	if step <= 0 {
		return ts
	}
	return ts.Truncate(step)
}
