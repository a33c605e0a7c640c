package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kubeaiops/inference-engine/internal/models"
)

// ErrConstruction is the sentinel all feature construction failures unwrap
// to. Construction never degrades: missing history, a missing metric or a
// length mismatch fails the whole vector.
var ErrConstruction = errors.New("feature construction failed")

// ConstructionError reports why a vector could not be built.
type ConstructionError struct {
	Family string
	Metric string
	Reason string
}

func (e *ConstructionError) Error() string {
	if e.Metric == "" {
		return fmt.Sprintf("feature construction failed for family %s: %s", e.Family, e.Reason)
	}
	return fmt.Sprintf("feature construction failed for family %s, metric %s: %s", e.Family, e.Metric, e.Reason)
}

func (e *ConstructionError) Unwrap() error { return ErrConstruction }

// Builder constructs feature vectors from normalized metric series according
// to a pinned catalogue.
type Builder struct {
	catalog Catalog
}

// NewBuilder returns a builder for the given catalogue.
func NewBuilder(catalog Catalog) *Builder {
	return &Builder{catalog: catalog}
}

// Catalog exposes the builder's catalogue for cross-checks and diagnostics.
func (b *Builder) Catalog() Catalog { return b.catalog }

// Build assembles the feature vector for the target timestamp. Every base
// metric must supply an aligned sample for every required offset; any gap is
// a ConstructionError, never a default-filled position. Building twice from
// identical input yields identical output.
func (b *Builder) Build(seriesByMetric map[string]models.MetricSeries, target time.Time) (models.FeatureVector, error) {
	cat := b.catalog
	target = target.UTC().Truncate(cat.Step)
	depth := cat.HistoryDepth()

	// grids[i][k] is metric i's value at target - k*step.
	grids := make([][]float64, len(cat.BaseMetrics))
	for i, metric := range cat.BaseMetrics {
		series, ok := seriesByMetric[metric.Name]
		if !ok {
			return models.FeatureVector{}, &ConstructionError{
				Family: cat.Family,
				Metric: metric.Name,
				Reason: "no series supplied",
			}
		}
		grid := make([]float64, depth)
		for k := 0; k < depth; k++ {
			ts := target.Add(-time.Duration(k) * cat.Step)
			value, found := series.ValueAt(ts)
			if !found {
				return models.FeatureVector{}, &ConstructionError{
					Family: cat.Family,
					Metric: metric.Name,
					Reason: fmt.Sprintf("missing sample at %s (offset t-%d)", ts.Format(time.RFC3339), k),
				}
			}
			grid[k] = value
		}
		grids[i] = grid
	}

	values := make([]float64, 0, cat.TotalFeatures())
	for s := cat.LookbackSteps - 1; s >= 0; s-- {
		for i := range cat.BaseMetrics {
			values = append(values, grids[i][s])
		}
		values = append(values, calendarValues(target.Add(-time.Duration(s)*cat.Step))...)
		for i, metric := range cat.BaseMetrics {
			for _, d := range cat.Derived {
				v, err := derive(grids[i], s, d)
				if err != nil {
					return models.FeatureVector{}, &ConstructionError{
						Family: cat.Family,
						Metric: metric.Name,
						Reason: fmt.Sprintf("derived %s at offset t-%d: %v", d.Name, s, err),
					}
				}
				values = append(values, v)
			}
		}
	}

	if len(values) != cat.TotalFeatures() {
		return models.FeatureVector{}, &ConstructionError{
			Family: cat.Family,
			Reason: fmt.Sprintf("assembled %d features, catalogue pins %d", len(values), cat.TotalFeatures()),
		}
	}

	return models.FeatureVector{
		Family:       cat.Family,
		Values:       values,
		FeatureCount: cat.TotalFeatures(),
	}, nil
}

// derive computes one derived feature for the step at offset s into grid.
// grid is indexed newest-first, so larger indices are older samples; the
// catalogue's HistoryDepth guarantees every index used here exists.
func derive(grid []float64, s int, d DerivedSpec) (float64, error) {
	switch d.Kind {
	case KindRollingMean:
		return rollingMean(grid, s, d.Window), nil
	case KindRollingStd:
		return rollingStd(grid, s, d.Window), nil
	case KindRollingMin:
		min := grid[s]
		for k := s + 1; k < s+d.Window; k++ {
			if grid[k] < min {
				min = grid[k]
			}
		}
		return min, nil
	case KindRollingMax:
		max := grid[s]
		for k := s + 1; k < s+d.Window; k++ {
			if grid[k] > max {
				max = grid[k]
			}
		}
		return max, nil
	case KindLag:
		return grid[s+d.Offset], nil
	case KindDiff:
		return grid[s] - grid[s+d.Offset], nil
	case KindPctChange:
		prev := grid[s+d.Offset]
		if prev == 0 {
			// Pinned convention shared with the training pipeline:
			// percent change from zero is zero, not infinity.
			return 0, nil
		}
		return (grid[s] - prev) / prev * 100, nil
	default:
		return 0, fmt.Errorf("unknown derived kind %q", d.Kind)
	}
}

func rollingMean(grid []float64, s, window int) float64 {
	sum := 0.0
	for k := s; k < s+window; k++ {
		sum += grid[k]
	}
	return sum / float64(window)
}

func rollingStd(grid []float64, s, window int) float64 {
	mean := rollingMean(grid, s, window)
	variance := 0.0
	for k := s; k < s+window; k++ {
		diff := grid[k] - mean
		variance += diff * diff
	}
	variance /= float64(window)
	return math.Sqrt(variance)
}
