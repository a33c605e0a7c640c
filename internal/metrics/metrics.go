package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful analyses.
	OutcomeSuccess = "success"
	// OutcomeError labels failed analyses (pipeline or dependency issues).
	OutcomeError = "error"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inference_engine",
			Name:      "analyses_total",
			Help:      "Total number of analysis requests handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "inference_engine",
			Name:      "analysis_seconds",
			Help:      "End-to-end analysis latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	featureBuildSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "inference_engine",
			Name:      "feature_build_seconds",
			Help:      "Feature vector construction latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	inferenceSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inference_engine",
			Name:      "inference_seconds",
			Help:      "Model serving round-trip latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)

	dimensionalityMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inference_engine",
			Name:      "dimensionality_mismatches_total",
			Help:      "Feature count rejections from the serving backend; always a catalogue drift defect.",
		},
	)
)

// Register attaches the engine's collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		featureBuildSeconds,
		inferenceSeconds,
		dimensionalityMismatches,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveFeatureBuild records feature construction latency.
func ObserveFeatureBuild(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	featureBuildSeconds.Observe(duration.Seconds())
}

// ObserveInference records one serving round trip for a model.
func ObserveInference(model string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	inferenceSeconds.WithLabelValues(model).Observe(duration.Seconds())
}

// CountDimensionalityMismatch records a serving-side feature count rejection.
func CountDimensionalityMismatch() {
	dimensionalityMismatches.Inc()
}
