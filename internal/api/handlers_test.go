package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kubeaiops/inference-engine/internal/config"
	"github.com/kubeaiops/inference-engine/internal/engine"
	"github.com/kubeaiops/inference-engine/internal/features"
	"github.com/kubeaiops/inference-engine/internal/models"
	"github.com/kubeaiops/inference-engine/internal/postprocess"
	"github.com/kubeaiops/inference-engine/internal/promapi"
	"github.com/kubeaiops/inference-engine/internal/registry"
	"github.com/kubeaiops/inference-engine/internal/services"
	"github.com/kubeaiops/inference-engine/internal/serving"
)

type fakeMetricsClient struct {
	fn func(ctx context.Context, query string, r models.TimeRange, step time.Duration) ([]models.MetricSeries, error)
}

func (f *fakeMetricsClient) QueryRange(ctx context.Context, query string, r models.TimeRange, step time.Duration) ([]models.MetricSeries, error) {
	return f.fn(ctx, query, r, step)
}

type fakeServingClient struct {
	predict func(ctx context.Context, info models.ModelInfo, vec models.FeatureVector) (models.InferenceResult, error)
	health  func(ctx context.Context, info models.ModelInfo) error
}

func (f *fakeServingClient) Predict(ctx context.Context, info models.ModelInfo, vec models.FeatureVector) (models.InferenceResult, error) {
	return f.predict(ctx, info, vec)
}

func (f *fakeServingClient) Health(ctx context.Context, info models.ModelInfo) error {
	if f.health == nil {
		return nil
	}
	return f.health(ctx, info)
}

func healthySeries(r models.TimeRange, step time.Duration) []models.MetricSeries {
	points := make([]models.MetricPoint, 0, 8)
	for ts := r.Start; !ts.After(r.End); ts = ts.Add(step) {
		points = append(points, models.MetricPoint{Timestamp: ts, Value: 1})
	}
	return []models.MetricSeries{{Points: points}}
}

func newTestMux(t *testing.T, mc engine.MetricsClient, sc engine.ServingClient, source ModelConfigSource) *http.ServeMux {
	t.Helper()
	cat, err := features.NewCatalog("pod-health", "v1", features.DefaultBaseMetrics(), []features.DerivedSpec{
		{Name: "lag_1", Kind: features.KindLag, Offset: 1},
	}, 3, time.Hour)
	if err != nil {
		t.Fatalf("catalogue: %v", err)
	}
	reg, err := registry.New(map[string]config.ModelConfig{
		"anomaly-detector":     {Endpoint: "http://kserve.models.svc", Family: "anomaly"},
		"predictive-analytics": {Endpoint: "http://kserve.models.svc", ServingName: "v2-prod", Family: "forecast"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	pipeline := engine.NewPipeline(nil, mc, features.NewBuilder(cat), reg, sc, postprocess.NewProcessor(nil, nil))
	service := services.NewAnalysisService(nil, pipeline, reg, time.Second)
	mux := http.NewServeMux()
	NewHandlers(nil, service, source).Register(mux)
	return mux
}

func postAnalyze(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error
}

const analyzeBody = `{"scope":{"namespace":"payments","pod":"checkout-7d9f"},"targetTime":"2026-03-10T12:00:00Z"}`

func TestAnalyzeEndpointSuccess(t *testing.T) {
	mc := &fakeMetricsClient{fn: func(_ context.Context, _ string, r models.TimeRange, step time.Duration) ([]models.MetricSeries, error) {
		return healthySeries(r, step), nil
	}}
	sc := &fakeServingClient{predict: func(_ context.Context, info models.ModelInfo, _ models.FeatureVector) (models.InferenceResult, error) {
		return models.InferenceResult{Family: info.Family, Model: info.LogicalName, Predictions: []float64{0.91}}, nil
	}}
	rec := postAnalyze(t, newTestMux(t, mc, sc, nil), analyzeBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp analysisResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Model != "anomaly-detector" {
		t.Fatalf("model = %q", resp.Model)
	}
	if resp.Anomaly == nil || resp.Anomaly.Severity != "critical" {
		t.Fatalf("unexpected anomaly payload: %+v", resp.Anomaly)
	}
}

func TestAnalyzeEndpointFailureMapping(t *testing.T) {
	okMetrics := func(_ context.Context, _ string, r models.TimeRange, step time.Duration) ([]models.MetricSeries, error) {
		return healthySeries(r, step), nil
	}
	cases := []struct {
		name         string
		body         string
		metricsErr   error
		predictErr   error
		wantStatus   int
		wantCategory string
	}{
		{
			name:         "unknown model",
			body:         `{"model":"nonexistent","scope":{"namespace":"payments"}}`,
			wantStatus:   http.StatusNotFound,
			wantCategory: "model_not_registered",
		},
		{
			name:         "invalid scope",
			body:         `{"scope":{"pod":"checkout-7d9f"}}`,
			wantStatus:   http.StatusBadRequest,
			wantCategory: "invalid_scope",
		},
		{
			name:         "no data",
			body:         analyzeBody,
			metricsErr:   promapi.ErrNoData,
			wantStatus:   http.StatusUnprocessableEntity,
			wantCategory: "no_data",
		},
		{
			name:         "backend unreachable",
			body:         analyzeBody,
			metricsErr:   promapi.ErrBackendUnreachable,
			wantStatus:   http.StatusServiceUnavailable,
			wantCategory: "backend_unreachable",
		},
		{
			name:         "model unhealthy",
			body:         analyzeBody,
			predictErr:   serving.ErrModelUnhealthy,
			wantStatus:   http.StatusServiceUnavailable,
			wantCategory: "model_unhealthy",
		},
		{
			name:         "serving timeout",
			body:         analyzeBody,
			predictErr:   serving.ErrTimeout,
			wantStatus:   http.StatusGatewayTimeout,
			wantCategory: "timeout",
		},
		{
			name:         "dimensionality mismatch is a defect",
			body:         analyzeBody,
			predictErr:   serving.ErrDimensionalityMismatch,
			wantStatus:   http.StatusInternalServerError,
			wantCategory: "dimensionality_mismatch",
		},
		{
			name:         "serving error",
			body:         analyzeBody,
			predictErr:   serving.ErrServingError,
			wantStatus:   http.StatusBadGateway,
			wantCategory: "upstream_error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mc := &fakeMetricsClient{fn: okMetrics}
			if tc.metricsErr != nil {
				mc.fn = func(context.Context, string, models.TimeRange, time.Duration) ([]models.MetricSeries, error) {
					return nil, tc.metricsErr
				}
			}
			sc := &fakeServingClient{predict: func(_ context.Context, info models.ModelInfo, _ models.FeatureVector) (models.InferenceResult, error) {
				if tc.predictErr != nil {
					return models.InferenceResult{}, tc.predictErr
				}
				return models.InferenceResult{Family: info.Family, Model: info.LogicalName, Predictions: []float64{0.5}}, nil
			}}

			rec := postAnalyze(t, newTestMux(t, mc, sc, nil), tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if got := decodeError(t, rec); got.Category != tc.wantCategory {
				t.Fatalf("category = %q, want %q", got.Category, tc.wantCategory)
			}
		})
	}
}

func TestAnalyzeEndpointRejectsBadJSON(t *testing.T) {
	mux := newTestMux(t, &fakeMetricsClient{fn: nil}, &fakeServingClient{}, nil)
	rec := postAnalyze(t, mux, `{"scope":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListModelsEndpoint(t *testing.T) {
	mux := newTestMux(t, &fakeMetricsClient{fn: nil}, &fakeServingClient{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Models []modelPayload `json:"models"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(resp.Models))
	}
	if resp.Models[1].ServingName != "v2-prod" {
		t.Fatalf("serving name = %q, want the v2-prod override", resp.Models[1].ServingName)
	}
}

func TestModelHealthEndpoint(t *testing.T) {
	sc := &fakeServingClient{health: func(_ context.Context, info models.ModelInfo) error {
		if info.ServingName == "v2-prod" {
			return nil
		}
		return errors.New("boom")
	}}
	mux := newTestMux(t, &fakeMetricsClient{fn: nil}, sc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models/predictive-analytics/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/models/nonexistent/health", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unregistered model", rec.Code)
	}
}

func TestReloadEndpoint(t *testing.T) {
	source := func() (map[string]config.ModelConfig, error) {
		return map[string]config.ModelConfig{
			"anomaly-detector": {Endpoint: "http://kserve.models.svc", Family: "anomaly"},
			"capacity-planner": {Endpoint: "http://kserve.models.svc", Family: "forecast"},
		}, nil
	}
	mux := newTestMux(t, &fakeMetricsClient{fn: nil}, &fakeServingClient{}, source)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/registry/reload", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "capacity-planner") {
		t.Fatal("reload did not replace the registry table")
	}
}

func TestReloadEndpointWithoutSource(t *testing.T) {
	mux := newTestMux(t, &fakeMetricsClient{fn: nil}, &fakeServingClient{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/registry/reload", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
