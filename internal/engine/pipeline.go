package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kubeaiops/inference-engine/internal/features"
	"github.com/kubeaiops/inference-engine/internal/metrics"
	"github.com/kubeaiops/inference-engine/internal/models"
	"github.com/kubeaiops/inference-engine/internal/postprocess"
	"github.com/kubeaiops/inference-engine/internal/promapi"
	"github.com/kubeaiops/inference-engine/internal/registry"
)

// DefaultModel is the logical model assumed when a request names none.
const DefaultModel = "anomaly-detector"

// MetricsClient is the metrics adapter behaviour the pipeline depends on.
type MetricsClient interface {
	QueryRange(ctx context.Context, query string, r models.TimeRange, step time.Duration) ([]models.MetricSeries, error)
}

// ServingClient is the inference proxy behaviour the pipeline depends on.
type ServingClient interface {
	Predict(ctx context.Context, info models.ModelInfo, vec models.FeatureVector) (models.InferenceResult, error)
	Health(ctx context.Context, info models.ModelInfo) error
}

// Pipeline runs one analysis request end to end: concurrent scoped metric
// fetches, feature construction, the inference call, and post-processing.
// Pipelines are stateless per request; the only shared state is the
// read-only registry snapshot and the catalogue.
type Pipeline struct {
	logger        *slog.Logger
	metricsClient MetricsClient
	builder       *features.Builder
	registry      *registry.Registry
	servingClient ServingClient
	post          *postprocess.Processor
}

// NewPipeline constructs an analysis pipeline.
func NewPipeline(
	logger *slog.Logger,
	metricsClient MetricsClient,
	builder *features.Builder,
	reg *registry.Registry,
	servingClient ServingClient,
	post *postprocess.Processor,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:        logger,
		metricsClient: metricsClient,
		builder:       builder,
		registry:      reg,
		servingClient: servingClient,
		post:          post,
	}
}

// Analyze executes the full pipeline for one request. The caller bounds ctx
// with the request-level timeout; cancellation propagates into every
// outstanding metric fetch and the in-flight inference call.
func (p *Pipeline) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = DefaultModel
	}
	info, err := p.registry.Lookup(modelName)
	if err != nil {
		return models.AnalysisResult{}, err
	}

	if err := req.Scope.Validate(); err != nil {
		return models.AnalysisResult{}, err
	}

	cat := p.builder.Catalog()
	target := p.targetTime(req, cat.Step)

	seriesByMetric, err := p.fetchBaseMetrics(ctx, req.Scope, target)
	if err != nil {
		return models.AnalysisResult{}, err
	}

	buildStart := time.Now()
	vec, err := p.builder.Build(seriesByMetric, target)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	metrics.ObserveFeatureBuild(time.Since(buildStart))

	var res models.InferenceResult
	inferStart := time.Now()
	if len(info.EnsembleOf) > 0 {
		res, err = p.predictEnsemble(ctx, info, vec)
	} else {
		res, err = p.servingClient.Predict(ctx, info, vec)
	}
	if err != nil {
		return models.AnalysisResult{}, err
	}
	metrics.ObserveInference(info.LogicalName, time.Since(inferStart))

	result := models.AnalysisResult{
		Model:     info.LogicalName,
		Family:    info.Family,
		CreatedAt: time.Now().UTC(),
	}
	switch info.Family {
	case models.FamilyForecast:
		forecast, err := p.post.ProcessForecast(res, target)
		if err != nil {
			return models.AnalysisResult{}, err
		}
		result.Forecast = &forecast
	default:
		anomaly, err := p.post.ProcessAnomaly(res, seriesByMetric)
		if err != nil {
			return models.AnalysisResult{}, err
		}
		result.Anomaly = &anomaly
	}
	return result, nil
}

// CheckHealth resolves the model and queries serving-side readiness without
// performing inference.
func (p *Pipeline) CheckHealth(ctx context.Context, modelName string) error {
	info, err := p.registry.Lookup(modelName)
	if err != nil {
		return err
	}
	if len(info.EnsembleOf) > 0 {
		for _, member := range info.EnsembleOf {
			memberInfo, err := p.registry.Lookup(member)
			if err != nil {
				return err
			}
			if err := p.servingClient.Health(ctx, memberInfo); err != nil {
				return err
			}
		}
		return nil
	}
	return p.servingClient.Health(ctx, info)
}

func (p *Pipeline) targetTime(req models.AnalysisRequest, step time.Duration) time.Time {
	target := req.TargetTime
	if target.IsZero() {
		target = req.TimeRange.End
	}
	if target.IsZero() {
		target = time.Now()
	}
	return target.UTC().Truncate(step)
}

// fetchBaseMetrics fans out one range query per base metric and waits for
// all of them. A failure or cancellation tears down the whole group: the
// feature layout needs every series, so a partial set must fail the request
// rather than shrink the vector.
func (p *Pipeline) fetchBaseMetrics(ctx context.Context, scope models.Scope, target time.Time) (map[string]models.MetricSeries, error) {
	cat := p.builder.Catalog()
	depth := cat.HistoryDepth()
	window := models.TimeRange{
		Start: target.Add(-time.Duration(depth-1) * cat.Step),
		End:   target,
	}

	// Render every query up front so a malformed scope is rejected before
	// any fetch is issued.
	queries := make([]string, len(cat.BaseMetrics))
	for i, metric := range cat.BaseMetrics {
		query, err := promapi.RenderQuery(metric.QueryTemplate, scope)
		if err != nil {
			return nil, err
		}
		queries[i] = query
	}

	fetched := make([]models.MetricSeries, len(cat.BaseMetrics))
	g, gctx := errgroup.WithContext(ctx)
	for i, metric := range cat.BaseMetrics {
		g.Go(func() error {
			series, err := p.metricsClient.QueryRange(gctx, queries[i], window, cat.Step)
			if err != nil {
				return fmt.Errorf("metric %s: %w", metric.Name, err)
			}
			if len(series) == 0 {
				return fmt.Errorf("metric %s: %w", metric.Name, promapi.ErrNoData)
			}
			// Scoped aggregation queries yield a single series.
			fetched[i] = models.MetricSeries{Metric: metric.Name, Points: series[0].Points}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("metric fetch cancelled: %w", ctx.Err())
		}
		return nil, err
	}

	seriesByMetric := make(map[string]models.MetricSeries, len(fetched))
	for _, series := range fetched {
		seriesByMetric[series.Metric] = series
	}
	return seriesByMetric, nil
}

// predictEnsemble fans the vector into every member model and aggregates
// per-component outcomes. Member failures become explicit component errors;
// whether enough succeeded to combine is the post-processor's call.
func (p *Pipeline) predictEnsemble(ctx context.Context, info models.ModelInfo, vec models.FeatureVector) (models.InferenceResult, error) {
	components := make([]models.ComponentResult, len(info.EnsembleOf))
	g, gctx := errgroup.WithContext(ctx)
	for i, member := range info.EnsembleOf {
		g.Go(func() error {
			memberInfo, err := p.registry.Lookup(member)
			if err != nil {
				components[i] = models.ComponentResult{Model: member, Error: err.Error()}
				return nil
			}
			res, err := p.servingClient.Predict(gctx, memberInfo, vec)
			if err != nil {
				p.logger.Warn("ensemble member failed",
					slog.String("ensemble", info.LogicalName),
					slog.String("member", member),
					slog.Any("error", err))
				components[i] = models.ComponentResult{Model: member, Error: err.Error()}
				return nil
			}
			score := 0.0
			if len(res.Predictions) > 0 {
				score = res.Predictions[0]
			}
			components[i] = models.ComponentResult{Model: member, Score: score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.InferenceResult{}, err
	}
	if ctx.Err() != nil {
		return models.InferenceResult{}, ctx.Err()
	}
	return models.InferenceResult{
		Family:     info.Family,
		Model:      info.LogicalName,
		Components: components,
	}, nil
}
