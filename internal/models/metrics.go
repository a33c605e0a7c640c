package models

import "time"

// MetricPoint is a single timestamped sample.
type MetricPoint struct {
	Timestamp time.Time
	Value     float64
}

// MetricSeries holds the samples fetched for one base metric, sorted by time
// with no duplicate timestamps. Gaps are allowed; the feature builder decides
// whether a gap is fatal.
type MetricSeries struct {
	Metric string
	Points []MetricPoint
}

// Len returns the number of samples in the series.
func (s MetricSeries) Len() int { return len(s.Points) }

// ValueAt returns the sample value at the exact timestamp, if present.
func (s MetricSeries) ValueAt(ts time.Time) (float64, bool) {
	target := ts.Unix()
	for _, p := range s.Points {
		if p.Timestamp.Unix() == target {
			return p.Value, true
		}
	}
	return 0, false
}

// TimeRange bounds a metric query window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}
