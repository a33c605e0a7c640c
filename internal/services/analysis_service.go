package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kubeaiops/inference-engine/internal/config"
	"github.com/kubeaiops/inference-engine/internal/engine"
	"github.com/kubeaiops/inference-engine/internal/metrics"
	"github.com/kubeaiops/inference-engine/internal/models"
	"github.com/kubeaiops/inference-engine/internal/registry"
	"github.com/kubeaiops/inference-engine/internal/serving"
	"github.com/kubeaiops/inference-engine/internal/utils"
)

// AnalysisService is the facade the transport layer calls. It bounds every
// request with the configured timeout, records metrics and latency
// percentiles, and gives catalogue drift a distinct log signature so it is
// never mistaken for a transient serving failure.
type AnalysisService struct {
	logger    *slog.Logger
	pipeline  *engine.Pipeline
	registry  *registry.Registry
	timeout   time.Duration
	latencies *utils.LatencyTracker
}

// NewAnalysisService constructs the service facade.
func NewAnalysisService(logger *slog.Logger, pipeline *engine.Pipeline, reg *registry.Registry, timeout time.Duration) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnalysisService{
		logger:    logger,
		pipeline:  pipeline,
		registry:  reg,
		timeout:   timeout,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze runs one analysis request under the request-level timeout. When
// the deadline fires, every outstanding metric fetch and any in-flight
// inference call is cancelled through the shared context.
func (s *AnalysisService) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.pipeline.Analyze(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveAnalysis(duration, metrics.OutcomeError)
		if errors.Is(err, serving.ErrDimensionalityMismatch) {
			metrics.CountDimensionalityMismatch()
			s.logger.Error("feature catalogue drift detected",
				slog.String("model", req.Model),
				slog.String("defect", "dimensionality_mismatch"),
				slog.Any("error", err))
		} else {
			s.logger.Warn("analysis failed", slog.String("model", req.Model), slog.Any("error", err))
		}
		return models.AnalysisResult{}, utils.NewAppError("analyze", "analysis failed", err)
	}

	s.latencies.Observe(duration)
	metrics.ObserveAnalysis(duration, metrics.OutcomeSuccess)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return result, nil
}

// ModelHealth checks serving-side readiness for a logical model.
func (s *AnalysisService) ModelHealth(ctx context.Context, modelName string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.pipeline.CheckHealth(ctx, modelName)
}

// ListModels returns the current registry snapshot.
func (s *AnalysisService) ListModels() []models.ModelInfo {
	return s.registry.List()
}

// ReloadModels swaps the registry table atomically. In-flight requests keep
// the snapshot they already resolved.
func (s *AnalysisService) ReloadModels(cfg map[string]config.ModelConfig) error {
	if err := s.registry.Reload(cfg); err != nil {
		s.logger.Error("registry reload rejected", slog.Any("error", err))
		return err
	}
	s.logger.Info("registry reloaded", slog.Int("models", len(cfg)))
	return nil
}
