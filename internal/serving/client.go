package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kubeaiops/inference-engine/internal/models"
)

// Typed serving failures. Each call returns exactly one of these (wrapped
// with model and endpoint context) or succeeds; retry policy belongs to the
// orchestration layer above, except for one bounded retry on the idempotent
// health check.
var (
	ErrModelUnhealthy         = errors.New("model unhealthy")
	ErrDimensionalityMismatch = errors.New("feature dimensionality mismatch")
	ErrServingError           = errors.New("serving backend error")
	ErrTimeout                = errors.New("serving call timed out")
)

// Client is the inference proxy. The timeout applies per client instance to
// the full round trip including connection setup.
type Client struct {
	httpClient    *http.Client
	logger        *slog.Logger
	healthRetries int
}

// NewClient constructs a proxy with the given round-trip timeout.
func NewClient(timeout time.Duration, healthRetries int, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if healthRetries < 0 {
		healthRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
		healthRetries: healthRetries,
	}
}

// Predict sends an engineered feature vector to the model's serving-side
// identifier and returns the raw numeric result. The vector's claimed
// length is verified before anything leaves the process.
func (c *Client) Predict(ctx context.Context, info models.ModelInfo, vec models.FeatureVector) (models.InferenceResult, error) {
	if len(vec.Values) != vec.FeatureCount {
		return models.InferenceResult{}, fmt.Errorf("%w: vector carries %d values but claims %d (model %s)",
			ErrDimensionalityMismatch, len(vec.Values), vec.FeatureCount, info.LogicalName)
	}
	instances, err := encodeRows([][]float64{vec.Values})
	if err != nil {
		return models.InferenceResult{}, err
	}
	return c.predict(ctx, info, instances)
}

// PredictRows sends raw feature arrays (one instance per row) without
// catalogue validation, for model families that take unengineered input.
func (c *Client) PredictRows(ctx context.Context, info models.ModelInfo, rows [][]float64) (models.InferenceResult, error) {
	instances, err := encodeRows(rows)
	if err != nil {
		return models.InferenceResult{}, err
	}
	return c.predict(ctx, info, instances)
}

// PredictNamed sends named-field rows for serving backends using the named
// instance convention.
func (c *Client) PredictNamed(ctx context.Context, info models.ModelInfo, rows []map[string]float64) (models.InferenceResult, error) {
	instances, err := encodeNamedRows(rows)
	if err != nil {
		return models.InferenceResult{}, err
	}
	return c.predict(ctx, info, instances)
}

func (c *Client) predict(ctx context.Context, info models.ModelInfo, instances json.RawMessage) (models.InferenceResult, error) {
	body, err := json.Marshal(predictRequest{Instances: instances})
	if err != nil {
		return models.InferenceResult{}, fmt.Errorf("marshal predict request: %w", err)
	}

	endpoint := c.predictURL(info)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.InferenceResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.InferenceResult{}, c.classifyTransport(err, info, endpoint)
	}
	defer resp.Body.Close()

	var decoded predictResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)

	if resp.StatusCode != http.StatusOK {
		return models.InferenceResult{}, c.classifyStatus(resp.StatusCode, decoded.Error, info, endpoint)
	}
	if decodeErr != nil {
		return models.InferenceResult{}, fmt.Errorf("%w: model %s: decode predictions: %v", ErrServingError, info.LogicalName, decodeErr)
	}
	if decoded.Error != "" {
		return models.InferenceResult{}, c.classifyStatus(resp.StatusCode, decoded.Error, info, endpoint)
	}
	if len(decoded.Predictions) == 0 {
		return models.InferenceResult{}, fmt.Errorf("%w: model %s returned no predictions", ErrServingError, info.LogicalName)
	}

	values := make([]float64, 0, len(decoded.Predictions))
	for _, raw := range decoded.Predictions {
		vals, err := decodePrediction(raw)
		if err != nil {
			return models.InferenceResult{}, fmt.Errorf("%w: model %s: %v", ErrServingError, info.LogicalName, err)
		}
		values = append(values, vals...)
	}

	return models.InferenceResult{
		Family:      info.Family,
		Model:       info.LogicalName,
		Predictions: values,
	}, nil
}

// Health checks serving-side readiness without performing inference. It
// resolves the serving-side identifier through the same ModelInfo as the
// predict path, so the two can never address different names. One bounded
// retry is allowed because the call is idempotent.
func (c *Client) Health(ctx context.Context, info models.ModelInfo) error {
	var lastErr error
	for attempt := 0; attempt <= c.healthRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: model %s health check: %v", ErrTimeout, info.LogicalName, ctx.Err())
			case <-time.After(200 * time.Millisecond):
			}
		}
		lastErr = c.healthOnce(ctx, info)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) healthOnce(ctx context.Context, info models.ModelInfo) error {
	endpoint := c.healthURL(info)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransport(err, info, endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: model %s not found at %s (serving name %q)",
			ErrModelUnhealthy, info.LogicalName, info.Endpoint, info.ServingName)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: model %s health returned %s", ErrModelUnhealthy, info.LogicalName, resp.Status)
	}

	var decoded healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%w: model %s: decode health response: %v", ErrModelUnhealthy, info.LogicalName, err)
	}
	if !decoded.Ready {
		return fmt.Errorf("%w: model %s reports not ready", ErrModelUnhealthy, info.LogicalName)
	}
	return nil
}

func (c *Client) predictURL(info models.ModelInfo) string {
	return strings.TrimRight(info.Endpoint, "/") + "/v1/models/" + url.PathEscape(info.ServingName) + ":predict"
}

func (c *Client) healthURL(info models.ModelInfo) string {
	return strings.TrimRight(info.Endpoint, "/") + "/v1/models/" + url.PathEscape(info.ServingName)
}

func (c *Client) classifyTransport(err error, info models.ModelInfo, endpoint string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: model %s at %s: %v", ErrTimeout, info.LogicalName, endpoint, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: model %s at %s: %v", ErrTimeout, info.LogicalName, endpoint, err)
	}
	return fmt.Errorf("%w: model %s at %s: %v", ErrModelUnhealthy, info.LogicalName, endpoint, err)
}

// classifyStatus maps serving error replies onto the failure taxonomy. A
// dimensionality rejection must surface as such, not as a generic serving
// error: it means catalogue drift, which is a defect, not a transient.
func (c *Client) classifyStatus(status int, message string, info models.ModelInfo, endpoint string) error {
	if isDimensionalityMessage(message) {
		return fmt.Errorf("%w: model %s at %s: %s", ErrDimensionalityMismatch, info.LogicalName, endpoint, message)
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: model %s not found at %s (serving name %q)",
			ErrModelUnhealthy, info.LogicalName, info.Endpoint, info.ServingName)
	case status == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: model %s at %s: %s", ErrModelUnhealthy, info.LogicalName, endpoint, message)
	case status >= 500:
		return fmt.Errorf("%w: model %s returned %d: %s", ErrServingError, info.LogicalName, status, message)
	default:
		return fmt.Errorf("%w: model %s returned %d: %s", ErrServingError, info.LogicalName, status, message)
	}
}

func isDimensionalityMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range []string{"dimension", "shape", "features", "input size"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
