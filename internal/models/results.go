package models

import "time"

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action enumerates the remediations the post-processor may recommend.
type Action string

const (
	ActionRestartPod           Action = "restart_pod"
	ActionScaleUp              Action = "scale_up"
	ActionInvestigateMemLeak   Action = "investigate_memory_leak"
	ActionInvestigateCrashloop Action = "investigate_crashloop"
	ActionInvestigate          Action = "investigate"
	ActionNone                 Action = "no_action"
)

// ComponentResult records one sub-model's contribution to an ensemble call.
// Error is non-empty when that component failed; a failed component is
// surfaced, never dropped from the aggregate.
type ComponentResult struct {
	Model string
	Score float64
	Error string
}

// InferenceResult is the raw output of one inference call before
// post-processing.
type InferenceResult struct {
	Family      ModelFamily
	Model       string
	Predictions []float64
	Components  []ComponentResult
}

// MetricContribution scores how far one base metric sits from its expected
// range, used to explain anomaly results.
type MetricContribution struct {
	Metric string
	Value  float64
	ZScore float64
}

// AnomalyResult is the caller-facing outcome for classification-family models.
type AnomalyResult struct {
	Score         float64
	Severity      Severity
	Confidence    float64
	Explanation   string
	Action        Action
	Contributions []MetricContribution
	Components    []ComponentResult
}

// ForecastResult passes point estimates through unchanged.
type ForecastResult struct {
	Model      string
	TargetTime time.Time
	Values     []float64
}

// AnalysisResult is the union returned to the orchestration layer.
type AnalysisResult struct {
	Model     string
	Family    ModelFamily
	Anomaly   *AnomalyResult
	Forecast  *ForecastResult
	CreatedAt time.Time
}
