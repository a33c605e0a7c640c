package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kubeaiops/inference-engine/internal/config"
	"github.com/kubeaiops/inference-engine/internal/features"
	"github.com/kubeaiops/inference-engine/internal/models"
	"github.com/kubeaiops/inference-engine/internal/promapi"
	"github.com/kubeaiops/inference-engine/internal/registry"
	"github.com/kubeaiops/inference-engine/internal/serving"
	"github.com/kubeaiops/inference-engine/internal/services"
	"github.com/kubeaiops/inference-engine/internal/utils"
)

// ModelConfigSource re-reads the model table from the configuration source
// for registry reloads.
type ModelConfigSource func() (map[string]config.ModelConfig, error)

// Handlers exposes the analysis API over HTTP.
type Handlers struct {
	logger       *slog.Logger
	service      *services.AnalysisService
	configSource ModelConfigSource
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(logger *slog.Logger, service *services.AnalysisService, configSource ModelConfigSource) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger, service: service, configSource: configSource}
}

// Register mounts the API routes.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/analyze", h.handleAnalyze)
	mux.HandleFunc("GET /api/v1/models", h.handleListModels)
	mux.HandleFunc("GET /api/v1/models/{name}/health", h.handleModelHealth)
	mux.HandleFunc("POST /api/v1/registry/reload", h.handleReload)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type scopePayload struct {
	Cluster    string `json:"cluster"`
	Namespace  string `json:"namespace"`
	Deployment string `json:"deployment"`
	Pod        string `json:"pod"`
	Selector   string `json:"selector"`
}

type analyzeRequest struct {
	Model      string       `json:"model"`
	Scope      scopePayload `json:"scope"`
	Metric     string       `json:"metric"`
	Start      string       `json:"start"`
	End        string       `json:"end"`
	TargetTime string       `json:"targetTime"`
}

type errorBody struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Hint     string `json:"hint,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (h *Handlers) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var payload analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", "")
		return
	}

	req := models.AnalysisRequest{
		Model:  payload.Model,
		Metric: payload.Metric,
		Scope: models.Scope{
			Cluster:    payload.Scope.Cluster,
			Namespace:  payload.Scope.Namespace,
			Deployment: payload.Scope.Deployment,
			Pod:        payload.Scope.Pod,
			Selector:   payload.Scope.Selector,
		},
	}
	if payload.Start != "" {
		start, err := utils.ParseRFC3339(payload.Start)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "bad_request", "invalid start time: "+err.Error(), "")
			return
		}
		req.TimeRange.Start = start
	}
	if payload.End != "" {
		end, err := utils.ParseRFC3339(payload.End)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "bad_request", "invalid end time: "+err.Error(), "")
			return
		}
		req.TimeRange.End = end
	}
	if payload.TargetTime != "" {
		target, err := utils.ParseRFC3339(payload.TargetTime)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "bad_request", "invalid target time: "+err.Error(), "")
			return
		}
		req.TargetTime = target
	}

	result, err := h.service.Analyze(r.Context(), req)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toAnalysisResponse(result))
}

func (h *Handlers) handleListModels(w http.ResponseWriter, _ *http.Request) {
	infos := h.service.ListModels()
	out := make([]modelPayload, 0, len(infos))
	for _, info := range infos {
		out = append(out, toModelPayload(info))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

func (h *Handlers) handleModelHealth(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.service.ModelHealth(r.Context(), name); err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"model": name, "status": "ready"})
}

func (h *Handlers) handleReload(w http.ResponseWriter, _ *http.Request) {
	if h.configSource == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "registry reload is not configured", "")
		return
	}
	cfg, err := h.configSource()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "config_error", err.Error(), "fix the configuration source and retry")
		return
	}
	if err := h.service.ReloadModels(cfg); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", err.Error(), "")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"models": len(cfg)})
}

// writeFailure maps the failure taxonomy onto HTTP status classes. Callers
// get the category and a remediation hint, not a raw backend error string.
func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrModelNotRegistered):
		h.writeError(w, http.StatusNotFound, "model_not_registered", err.Error(),
			"check the model name against the models configuration")
	case errors.Is(err, models.ErrInvalidScope):
		h.writeError(w, http.StatusBadRequest, "invalid_scope", err.Error(), "")
	case errors.Is(err, serving.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "timeout", err.Error(),
			"the request-level timeout cancelled all outstanding calls")
	case errors.Is(err, serving.ErrModelUnhealthy):
		h.writeError(w, http.StatusServiceUnavailable, "model_unhealthy", err.Error(),
			"verify the serving endpoint and model readiness")
	case errors.Is(err, promapi.ErrBackendUnreachable):
		h.writeError(w, http.StatusServiceUnavailable, "backend_unreachable", err.Error(),
			"verify the monitoring backend address")
	case errors.Is(err, promapi.ErrNoData):
		h.writeError(w, http.StatusUnprocessableEntity, "no_data", err.Error(),
			"a base metric has no samples for this scope and window")
	case errors.Is(err, features.ErrConstruction):
		h.writeError(w, http.StatusUnprocessableEntity, "feature_construction_failed", err.Error(),
			"insufficient aligned history for the feature catalogue")
	case errors.Is(err, serving.ErrDimensionalityMismatch):
		h.writeError(w, http.StatusInternalServerError, "dimensionality_mismatch", err.Error(),
			"feature catalogue drift: reconcile with the training pipeline's published feature list")
	case errors.Is(err, serving.ErrServingError), errors.Is(err, promapi.ErrMalformedResponse):
		h.writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), "")
	default:
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error(), "")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, category, message, hint string) {
	h.writeJSON(w, status, errorResponse{Error: errorBody{Category: category, Message: message, Hint: hint}})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("write response", slog.Any("error", err))
	}
}

type modelPayload struct {
	LogicalName string   `json:"logicalName"`
	Endpoint    string   `json:"endpoint,omitempty"`
	ServingName string   `json:"servingName"`
	Namespace   string   `json:"namespace,omitempty"`
	Family      string   `json:"family"`
	EnsembleOf  []string `json:"ensembleOf,omitempty"`
}

func toModelPayload(info models.ModelInfo) modelPayload {
	return modelPayload{
		LogicalName: info.LogicalName,
		Endpoint:    info.Endpoint,
		ServingName: info.ServingName,
		Namespace:   info.Namespace,
		Family:      string(info.Family),
		EnsembleOf:  info.EnsembleOf,
	}
}

type contributionPayload struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	ZScore float64 `json:"zScore"`
}

type componentPayload struct {
	Model string  `json:"model"`
	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"`
}

type anomalyPayload struct {
	Score         float64               `json:"score"`
	Severity      string                `json:"severity"`
	Confidence    float64               `json:"confidence"`
	Explanation   string                `json:"explanation"`
	Action        string                `json:"action"`
	Contributions []contributionPayload `json:"contributions,omitempty"`
	Components    []componentPayload    `json:"components,omitempty"`
}

type forecastPayload struct {
	Model      string    `json:"model"`
	TargetTime time.Time `json:"targetTime"`
	Values     []float64 `json:"values"`
}

type analysisResponse struct {
	Model     string           `json:"model"`
	Family    string           `json:"family"`
	Anomaly   *anomalyPayload  `json:"anomaly,omitempty"`
	Forecast  *forecastPayload `json:"forecast,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

func toAnalysisResponse(result models.AnalysisResult) analysisResponse {
	resp := analysisResponse{
		Model:     result.Model,
		Family:    string(result.Family),
		CreatedAt: result.CreatedAt,
	}
	if result.Anomaly != nil {
		anomaly := anomalyPayload{
			Score:       result.Anomaly.Score,
			Severity:    string(result.Anomaly.Severity),
			Confidence:  result.Anomaly.Confidence,
			Explanation: result.Anomaly.Explanation,
			Action:      string(result.Anomaly.Action),
		}
		for _, contrib := range result.Anomaly.Contributions {
			anomaly.Contributions = append(anomaly.Contributions, contributionPayload{
				Metric: contrib.Metric,
				Value:  contrib.Value,
				ZScore: contrib.ZScore,
			})
		}
		for _, comp := range result.Anomaly.Components {
			anomaly.Components = append(anomaly.Components, componentPayload{
				Model: comp.Model,
				Score: comp.Score,
				Error: comp.Error,
			})
		}
		resp.Anomaly = &anomaly
	}
	if result.Forecast != nil {
		resp.Forecast = &forecastPayload{
			Model:      result.Forecast.Model,
			TargetTime: result.Forecast.TargetTime,
			Values:     result.Forecast.Values,
		}
	}
	return resp
}
