package postprocess

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kubeaiops/inference-engine/internal/models"
)

// Severity thresholds on the normalized 0-1 anomaly score. Fixed and
// documented; not inferred from data.
const (
	criticalThreshold = 0.9
	highThreshold     = 0.75
	mediumThreshold   = 0.5
)

// breachZScore is how many standard deviations a base metric's latest
// sample must sit from its recent mean to count as a contributing breach.
const breachZScore = 2.0

// Processor turns raw model output into the caller-facing result.
type Processor struct {
	rules  *ActionRules
	logger *slog.Logger
}

// NewProcessor constructs a Processor. rules may be nil, in which case the
// built-in action fallback applies.
func NewProcessor(rules *ActionRules, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{rules: rules, logger: logger}
}

// ProcessAnomaly maps classification-family output onto an AnomalyResult.
// seriesByMetric is the domain context the explanation is derived from: the
// same base series the feature vector was built from.
func (p *Processor) ProcessAnomaly(res models.InferenceResult, seriesByMetric map[string]models.MetricSeries) (models.AnomalyResult, error) {
	raw, components, err := rawScore(res)
	if err != nil {
		return models.AnomalyResult{}, err
	}

	score := NormalizeScore(raw)
	severity := severityFor(score)
	contributions := scoreContributions(seriesByMetric)

	breached := make([]string, 0, len(contributions))
	for _, contrib := range contributions {
		if math.Abs(contrib.ZScore) >= breachZScore {
			breached = append(breached, contrib.Metric)
		}
	}

	return models.AnomalyResult{
		Score:         score,
		Severity:      severity,
		Confidence:    confidenceFor(score),
		Explanation:   explain(score, severity, contributions),
		Action:        p.rules.Select(severity, breached),
		Contributions: contributions,
		Components:    components,
	}, nil
}

// ProcessForecast passes forecasting-family point estimates through
// unchanged; no severity or action classification applies.
func (p *Processor) ProcessForecast(res models.InferenceResult, target time.Time) (models.ForecastResult, error) {
	if len(res.Predictions) == 0 {
		return models.ForecastResult{}, fmt.Errorf("forecast model %s returned no output", res.Model)
	}
	return models.ForecastResult{
		Model:      res.Model,
		TargetTime: target,
		Values:     append([]float64(nil), res.Predictions...),
	}, nil
}

// rawScore extracts the raw numeric output, honouring ensemble semantics: a
// per-component failure is surfaced, never silently dropped, and no result
// is fabricated when the raw output is itself an error.
func rawScore(res models.InferenceResult) (float64, []models.ComponentResult, error) {
	if len(res.Components) > 0 {
		combined, ok := Combine(res.Components)
		if !ok {
			return 0, nil, fmt.Errorf("ensemble %s: too few components succeeded (%s)",
				res.Model, componentSummary(res.Components))
		}
		return combined, res.Components, nil
	}
	if len(res.Predictions) == 0 {
		return 0, nil, fmt.Errorf("model %s returned no output", res.Model)
	}
	return res.Predictions[0], nil, nil
}

func componentSummary(components []models.ComponentResult) string {
	parts := make([]string, 0, len(components))
	for _, comp := range components {
		if comp.Error != "" {
			parts = append(parts, comp.Model+": "+comp.Error)
		}
	}
	return strings.Join(parts, "; ")
}

// NormalizeScore maps raw outlier output onto [0, 1]. Detectors following
// the decision-function convention emit negative values for outliers, so a
// negative raw score normalizes to its magnitude; values already in [0, 1]
// pass through; anything above clamps to 1.
func NormalizeScore(raw float64) float64 {
	if raw < 0 {
		raw = -raw
	}
	if raw > 1 {
		return 1
	}
	return raw
}

func severityFor(score float64) models.Severity {
	switch {
	case score >= criticalThreshold:
		return models.SeverityCritical
	case score >= highThreshold:
		return models.SeverityHigh
	case score >= mediumThreshold:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// confidenceFor reports how far the score sits from the ambiguous middle of
// the scale: a score near 0 or 1 is a confident call either way.
func confidenceFor(score float64) float64 {
	c := 2 * math.Abs(score-0.5)
	if c > 1 {
		return 1
	}
	return c
}

// scoreContributions ranks the base metrics by how far their latest sample
// deviates from the mean of the preceding samples, most significant first.
func scoreContributions(seriesByMetric map[string]models.MetricSeries) []models.MetricContribution {
	contributions := make([]models.MetricContribution, 0, len(seriesByMetric))
	for name, series := range seriesByMetric {
		if series.Len() < 3 {
			continue
		}
		history := series.Points[:series.Len()-1]
		latest := series.Points[series.Len()-1].Value

		mean := 0.0
		for _, point := range history {
			mean += point.Value
		}
		mean /= float64(len(history))

		variance := 0.0
		for _, point := range history {
			diff := point.Value - mean
			variance += diff * diff
		}
		variance /= float64(len(history))
		stdDev := math.Sqrt(variance)
		if stdDev == 0 {
			stdDev = 0.01
		}

		contributions = append(contributions, models.MetricContribution{
			Metric: name,
			Value:  latest,
			ZScore: (latest - mean) / stdDev,
		})
	}
	sort.Slice(contributions, func(i, j int) bool {
		return math.Abs(contributions[i].ZScore) > math.Abs(contributions[j].ZScore)
	})
	return contributions
}

func explain(score float64, severity models.Severity, contributions []models.MetricContribution) string {
	head := fmt.Sprintf("anomaly score %.2f (%s)", score, severity)

	significant := make([]string, 0, 2)
	for _, contrib := range contributions {
		if math.Abs(contrib.ZScore) < breachZScore {
			break
		}
		significant = append(significant, fmt.Sprintf("%s deviates %.1fσ from its recent mean", contrib.Metric, math.Abs(contrib.ZScore)))
		if len(significant) == 2 {
			break
		}
	}
	if len(significant) == 0 {
		return head + ": no single metric stands out"
	}
	return head + ": " + strings.Join(significant, "; ")
}
