package features

import (
	"fmt"
	"time"
)

// DerivedKind enumerates the derived feature generators the catalogue can
// reference.
type DerivedKind string

const (
	KindRollingMean DerivedKind = "rolling_mean"
	KindRollingStd  DerivedKind = "rolling_std"
	KindRollingMin  DerivedKind = "rolling_min"
	KindRollingMax  DerivedKind = "rolling_max"
	KindLag         DerivedKind = "lag"
	KindDiff        DerivedKind = "diff"
	KindPctChange   DerivedKind = "pct_change"
)

// ParseDerivedKind maps a configured kind name onto a DerivedKind.
func ParseDerivedKind(s string) (DerivedKind, error) {
	switch DerivedKind(s) {
	case KindRollingMean, KindRollingStd, KindRollingMin, KindRollingMax, KindLag, KindDiff, KindPctChange:
		return DerivedKind(s), nil
	default:
		return "", fmt.Errorf("unknown derived feature kind %q", s)
	}
}

// DerivedSpec declares one derived feature generator. Window applies to
// rolling kinds (trailing samples, inclusive of the current step); Offset
// applies to lag, diff and pct_change.
type DerivedSpec struct {
	Name   string
	Kind   DerivedKind
	Window int
	Offset int
}

func (d DerivedSpec) validate() error {
	switch d.Kind {
	case KindRollingMean, KindRollingStd, KindRollingMin, KindRollingMax:
		if d.Window < 2 {
			return fmt.Errorf("derived %q: rolling window must be >= 2, got %d", d.Name, d.Window)
		}
	case KindLag, KindDiff, KindPctChange:
		if d.Offset < 1 {
			return fmt.Errorf("derived %q: offset must be >= 1, got %d", d.Name, d.Offset)
		}
	default:
		return fmt.Errorf("derived %q: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// historyBeyondStep is how many extra aligned samples before a step this
// generator needs.
func (d DerivedSpec) historyBeyondStep() int {
	switch d.Kind {
	case KindRollingMean, KindRollingStd, KindRollingMin, KindRollingMax:
		return d.Window - 1
	default:
		return d.Offset
	}
}

// BaseMetric names one input series and the scoped query that produces it.
type BaseMetric struct {
	Name          string
	QueryTemplate string
}

// DefaultBaseMetrics is the pinned base metric set for the pod-health model
// families. Order matters: it defines feature positions.
func DefaultBaseMetrics() []BaseMetric {
	return []BaseMetric{
		{Name: "cpu_usage", QueryTemplate: `sum(rate(container_cpu_usage_seconds_total{%s}[5m]))`},
		{Name: "memory_usage", QueryTemplate: `sum(container_memory_working_set_bytes{%s})`},
		{Name: "network_receive", QueryTemplate: `sum(rate(container_network_receive_bytes_total{%s}[5m]))`},
		{Name: "network_transmit", QueryTemplate: `sum(rate(container_network_transmit_bytes_total{%s}[5m]))`},
		{Name: "restart_count", QueryTemplate: `sum(increase(kube_pod_container_status_restarts_total{%s}[1h]))`},
	}
}

// calendarFeatures is the fixed, ordered calendar feature set. Adding or
// removing an entry shifts every subsequent feature position and must be
// coordinated with the offline training pipeline.
var calendarFeatures = []string{
	"hour_of_day",
	"day_of_week",
	"day_of_month",
	"month",
	"is_weekend",
	"is_business_hours",
}

// CalendarFeatureCount is the documented size of the calendar feature set.
const CalendarFeatureCount = 6

// CalendarFeatureNames returns the ordered calendar feature names.
func CalendarFeatureNames() []string {
	return append([]string(nil), calendarFeatures...)
}

// Catalog is the versioned, data-driven feature definition for one model
// family. It is the single source of truth for vector length and ordering:
// the offline training pipeline publishes the same ordered name list, and
// the two are pinned against each other in tests.
//
// Layout is time-major: the outer dimension walks lookback steps from oldest
// to newest; within one step the columns are the base metric values in
// catalogue order, then the calendar features, then the derived features
// grouped metric-major (all derived of metric 0, then metric 1, ...).
type Catalog struct {
	Family        string
	Version       string
	BaseMetrics   []BaseMetric
	Derived       []DerivedSpec
	LookbackSteps int
	Step          time.Duration
}

// NewCatalog validates and returns a catalogue.
func NewCatalog(family, version string, base []BaseMetric, derived []DerivedSpec, lookbackSteps int, step time.Duration) (Catalog, error) {
	if family == "" {
		return Catalog{}, fmt.Errorf("catalog: family is required")
	}
	if len(base) == 0 {
		return Catalog{}, fmt.Errorf("catalog %s: at least one base metric is required", family)
	}
	if len(derived) == 0 {
		return Catalog{}, fmt.Errorf("catalog %s: at least one derived feature is required", family)
	}
	if lookbackSteps <= 0 {
		return Catalog{}, fmt.Errorf("catalog %s: lookback steps must be positive", family)
	}
	if step <= 0 {
		return Catalog{}, fmt.Errorf("catalog %s: step must be positive", family)
	}
	seen := make(map[string]struct{}, len(derived))
	for _, d := range derived {
		if err := d.validate(); err != nil {
			return Catalog{}, fmt.Errorf("catalog %s: %w", family, err)
		}
		if _, dup := seen[d.Name]; dup {
			return Catalog{}, fmt.Errorf("catalog %s: duplicate derived feature %q", family, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return Catalog{
		Family:        family,
		Version:       version,
		BaseMetrics:   base,
		Derived:       derived,
		LookbackSteps: lookbackSteps,
		Step:          step,
	}, nil
}

// ColumnsPerStep is the number of feature columns contributed by one
// lookback step: base + calendar + derived-per-metric × base.
func (c Catalog) ColumnsPerStep() int {
	b := len(c.BaseMetrics)
	return b + CalendarFeatureCount + len(c.Derived)*b
}

// TotalFeatures is the pinned vector length:
// lookback_steps × (base + calendar + derived × base).
func (c Catalog) TotalFeatures() int {
	return c.LookbackSteps * c.ColumnsPerStep()
}

// HistoryDepth is the number of aligned samples each base series must
// provide: the lookback itself plus the deepest derived-feature reach.
func (c Catalog) HistoryDepth() int {
	extra := 0
	for _, d := range c.Derived {
		if n := d.historyBeyondStep(); n > extra {
			extra = n
		}
	}
	return c.LookbackSteps + extra
}

// CrossCheck compares the catalogue arithmetic against the published
// expected count for this family. A mismatch is catalogue drift and must
// abort startup.
func (c Catalog) CrossCheck(expected int) error {
	if expected <= 0 {
		return nil
	}
	if got := c.TotalFeatures(); got != expected {
		return fmt.Errorf("catalog %s/%s: computed feature count %d does not match published count %d",
			c.Family, c.Version, got, expected)
	}
	return nil
}

// FeatureNames returns the full ordered feature name list. Position i in
// every vector built from this catalogue carries the feature named by
// element i.
func (c Catalog) FeatureNames() []string {
	names := make([]string, 0, c.TotalFeatures())
	for s := c.LookbackSteps - 1; s >= 0; s-- {
		suffix := fmt.Sprintf("[t-%d]", s)
		for _, m := range c.BaseMetrics {
			names = append(names, m.Name+suffix)
		}
		for _, cal := range calendarFeatures {
			names = append(names, cal+suffix)
		}
		for _, m := range c.BaseMetrics {
			for _, d := range c.Derived {
				names = append(names, m.Name+"."+d.Name+suffix)
			}
		}
	}
	return names
}

// MetricNames returns the ordered base metric names.
func (c Catalog) MetricNames() []string {
	names := make([]string, 0, len(c.BaseMetrics))
	for _, m := range c.BaseMetrics {
		names = append(names, m.Name)
	}
	return names
}
