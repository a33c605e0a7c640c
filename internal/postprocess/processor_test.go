package postprocess

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kubeaiops/inference-engine/internal/models"
)

func flatSeries(name string, latest float64) models.MetricSeries {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	points := make([]models.MetricPoint, 0, 8)
	for i := 0; i < 7; i++ {
		points = append(points, models.MetricPoint{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Value:     10 + float64(i%2), // mean 10.43, stddev ~0.5
		})
	}
	points = append(points, models.MetricPoint{
		Timestamp: base.Add(7 * time.Hour),
		Value:     latest,
	})
	return models.MetricSeries{Metric: name, Points: points}
}

func TestNormalizeScore(t *testing.T) {
	cases := []struct {
		raw  float64
		want float64
	}{
		{0.42, 0.42},
		// Decision-function convention: a negative raw score is an
		// outlier of that magnitude, and anything above 1 clamps.
		{-0.8, 0.8},
		{3.5, 1},
		{0, 0},
	}
	for _, tc := range cases {
		if got := NormalizeScore(tc.raw); got != tc.want {
			t.Fatalf("NormalizeScore(%v) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestSeverityThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  models.Severity
	}{
		{0.95, models.SeverityCritical},
		{0.9, models.SeverityCritical},
		{0.8, models.SeverityHigh},
		{0.75, models.SeverityHigh},
		{0.6, models.SeverityMedium},
		{0.5, models.SeverityMedium},
		{0.49, models.SeverityLow},
		{0.1, models.SeverityLow},
	}
	for _, tc := range cases {
		if got := severityFor(tc.score); got != tc.want {
			t.Fatalf("severityFor(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestProcessAnomalyExplainsBreachedMetrics(t *testing.T) {
	p := NewProcessor(nil, nil)
	series := map[string]models.MetricSeries{
		"cpu_usage":     flatSeries("cpu_usage", 10.5),
		"memory_usage":  flatSeries("memory_usage", 40),
		"restart_count": flatSeries("restart_count", 10),
	}

	res, err := p.ProcessAnomaly(models.InferenceResult{
		Model:       "anomaly-detector",
		Family:      models.FamilyAnomaly,
		Predictions: []float64{0.93},
	}, series)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.Score != 0.93 {
		t.Fatalf("score = %v, want 0.93", res.Score)
	}
	if res.Severity != models.SeverityCritical {
		t.Fatalf("severity = %v, want critical", res.Severity)
	}
	if res.Confidence <= 0.8 {
		t.Fatalf("confidence = %v, want > 0.8 for an extreme score", res.Confidence)
	}
	if len(res.Contributions) == 0 || res.Contributions[0].Metric != "memory_usage" {
		t.Fatalf("top contribution should be memory_usage: %+v", res.Contributions)
	}
	if !strings.Contains(res.Explanation, "memory_usage") {
		t.Fatalf("explanation does not name the deviating metric: %q", res.Explanation)
	}
	// memory breach at critical severity maps through the fallback chain.
	if res.Action != models.ActionInvestigateMemLeak {
		t.Fatalf("action = %v, want investigate_memory_leak", res.Action)
	}
}

func TestProcessAnomalyWithoutOutputFails(t *testing.T) {
	p := NewProcessor(nil, nil)
	_, err := p.ProcessAnomaly(models.InferenceResult{Model: "anomaly-detector"}, nil)
	if err == nil {
		t.Fatal("expected error for empty model output")
	}
}

func TestProcessForecastPassesValuesThrough(t *testing.T) {
	p := NewProcessor(nil, nil)
	target := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	res, err := p.ProcessForecast(models.InferenceResult{
		Model:       "predictive-analytics",
		Family:      models.FamilyForecast,
		Predictions: []float64{101.5, 98.2, 104.9},
	}, target)
	if err != nil {
		t.Fatalf("process forecast: %v", err)
	}
	if len(res.Values) != 3 || res.Values[2] != 104.9 {
		t.Fatalf("forecast values altered: %v", res.Values)
	}
	if !res.TargetTime.Equal(target) {
		t.Fatalf("target time = %v, want %v", res.TargetTime, target)
	}
}

func TestCombineRequiresMajority(t *testing.T) {
	ok2of3 := []models.ComponentResult{
		{Model: "a", Score: 0.8},
		{Model: "b", Score: 0.6},
		{Model: "c", Error: "timed out"},
	}
	combined, ok := Combine(ok2of3)
	if !ok {
		t.Fatal("two of three successes should combine")
	}
	if math.Abs(combined-0.7) > 1e-9 {
		t.Fatalf("combined = %v, want 0.7", combined)
	}

	tied1of2 := []models.ComponentResult{
		{Model: "a", Score: 0.8},
		{Model: "b", Error: "unhealthy"},
	}
	if _, ok := Combine(tied1of2); ok {
		t.Fatal("half successes is not a strict majority")
	}

	if _, ok := Combine(nil); ok {
		t.Fatal("empty component list must not combine")
	}
}

func TestProcessAnomalySurfacesFailedComponents(t *testing.T) {
	p := NewProcessor(nil, nil)
	res, err := p.ProcessAnomaly(models.InferenceResult{
		Model:  "pod-health-ensemble",
		Family: models.FamilyAnomaly,
		Components: []models.ComponentResult{
			{Model: "a", Score: 0.9},
			{Model: "b", Score: 0.7},
			{Model: "c", Error: "serving backend error"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Components) != 3 {
		t.Fatalf("components dropped: %+v", res.Components)
	}
	if res.Components[2].Error == "" {
		t.Fatal("failed component error lost")
	}
	if math.Abs(res.Score-0.8) > 1e-9 {
		t.Fatalf("combined score = %v, want 0.8", res.Score)
	}
}

func TestProcessAnomalyEnsembleBelowQuorumFails(t *testing.T) {
	p := NewProcessor(nil, nil)
	_, err := p.ProcessAnomaly(models.InferenceResult{
		Model:  "pod-health-ensemble",
		Family: models.FamilyAnomaly,
		Components: []models.ComponentResult{
			{Model: "a", Error: "timed out"},
			{Model: "b", Error: "unhealthy"},
			{Model: "c", Score: 0.7},
		},
	}, nil)
	if err == nil {
		t.Fatal("expected quorum failure")
	}
	if !strings.Contains(err.Error(), "too few components") {
		t.Fatalf("unexpected error: %v", err)
	}
}
