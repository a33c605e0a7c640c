package promapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kubeaiops/inference-engine/internal/cache"
	"github.com/kubeaiops/inference-engine/internal/models"
)

// Typed failures for monitoring backend queries. ErrNoData is a valid signal
// ("no samples in range"), never a transport failure; callers must not
// conflate the two.
var (
	ErrNoData             = errors.New("no data for query")
	ErrBackendUnreachable = errors.New("monitoring backend unreachable")
	ErrMalformedResponse  = errors.New("malformed monitoring backend response")
)

// Querier is the metrics adapter behaviour the pipeline depends on.
type Querier interface {
	Query(ctx context.Context, query string, ts time.Time) ([]models.MetricSeries, error)
	QueryRange(ctx context.Context, query string, r models.TimeRange, step time.Duration) ([]models.MetricSeries, error)
}

// Client queries the Prometheus HTTP API and normalizes both response shapes
// (instant vectors and range matrices) into MetricSeries.
type Client struct {
	baseURL    string
	queryPath  string
	rangePath  string
	httpClient *http.Client
	cache      cache.Provider
	queryTTL   time.Duration
}

// NewClient constructs a client for the configured Prometheus-compatible
// backend. A nil cacheProvider disables range-query caching.
func NewClient(baseURL, queryPath, rangePath string, timeout time.Duration, cacheProvider cache.Provider, queryTTL time.Duration) *Client {
	if queryPath == "" {
		queryPath = "/api/v1/query"
	}
	if rangePath == "" {
		rangePath = "/api/v1/query_range"
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		queryPath:  queryPath,
		rangePath:  rangePath,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		queryTTL:   queryTTL,
	}
}

// apiResponse is the Prometheus HTTP API envelope. Data.ResultType
// discriminates the result shape.
type apiResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
	Data      struct {
		ResultType string          `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	} `json:"data"`
}

type vectorEntry struct {
	Metric map[string]string `json:"metric"`
	Value  [2]any            `json:"value"`
}

type matrixEntry struct {
	Metric map[string]string `json:"metric"`
	Values [][2]any          `json:"values"`
}

// Query issues an instant query at the provided evaluation timestamp.
func (c *Client) Query(ctx context.Context, query string, ts time.Time) ([]models.MetricSeries, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: base URL not configured", ErrBackendUnreachable)
	}

	params := url.Values{}
	params.Set("query", query)
	if !ts.IsZero() {
		params.Set("time", strconv.FormatInt(ts.Unix(), 10))
	}
	return c.execute(ctx, c.resolvePath(c.queryPath), params, query)
}

// QueryRange issues a range query with the given step. Results are cached
// for queryTTL when a cache provider is configured; the cache key includes
// the full encoded query and window so distinct requests never collide.
func (c *Client) QueryRange(ctx context.Context, query string, r models.TimeRange, step time.Duration) ([]models.MetricSeries, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: base URL not configured", ErrBackendUnreachable)
	}
	if !r.End.After(r.Start) {
		return nil, fmt.Errorf("%w: empty range for query %q", ErrNoData, query)
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(r.Start.Unix(), 10))
	params.Set("end", strconv.FormatInt(r.End.Unix(), 10))
	params.Set("step", strconv.FormatInt(int64(step.Seconds()), 10))

	cacheKey := "promapi:range:" + params.Encode()
	if c.queryTTL > 0 {
		if cached, err := c.cache.Get(ctx, cacheKey); err == nil {
			var series []models.MetricSeries
			if err := json.Unmarshal(cached, &series); err == nil {
				return series, nil
			}
			_ = c.cache.Del(ctx, cacheKey)
		}
	}

	series, err := c.execute(ctx, c.resolvePath(c.rangePath), params, query)
	if err != nil {
		return nil, err
	}

	if c.queryTTL > 0 {
		if payload, err := json.Marshal(series); err == nil {
			_ = c.cache.Set(ctx, cacheKey, payload, c.queryTTL)
		}
	}
	return series, nil
}

func (c *Client) execute(ctx context.Context, endpoint string, params url.Values, query string) ([]models.MetricSeries, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: status %s: %v", ErrMalformedResponse, resp.Status, err)
	}

	if envelope.Status != "success" {
		return nil, fmt.Errorf("%w: backend %s error %q for query %q", ErrMalformedResponse, envelope.ErrorType, envelope.Error, query)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: backend returned %s for query %q", ErrMalformedResponse, resp.Status, query)
	}

	series, err := parseResult(envelope.Data.ResultType, envelope.Data.Result)
	if err != nil {
		return nil, fmt.Errorf("%w: query %q: %v", ErrMalformedResponse, query, err)
	}
	if len(series) == 0 {
		// Carry the encoded query so an always-empty result from a
		// mis-encoded selector is diagnosable from the error alone.
		return nil, fmt.Errorf("%w: query %q returned an empty result set", ErrNoData, query)
	}
	return series, nil
}

// parseResult handles both backend response shapes exhaustively; an
// unrecognized shape is malformed, never silently empty.
func parseResult(resultType string, raw json.RawMessage) ([]models.MetricSeries, error) {
	switch resultType {
	case "vector":
		var entries []vectorEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("decode vector result: %v", err)
		}
		series := make([]models.MetricSeries, 0, len(entries))
		for _, entry := range entries {
			point, err := parseSample(entry.Value)
			if err != nil {
				return nil, err
			}
			series = append(series, models.MetricSeries{
				Metric: metricName(entry.Metric),
				Points: []models.MetricPoint{point},
			})
		}
		return series, nil

	case "matrix":
		var entries []matrixEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("decode matrix result: %v", err)
		}
		series := make([]models.MetricSeries, 0, len(entries))
		for _, entry := range entries {
			points := make([]models.MetricPoint, 0, len(entry.Values))
			seen := make(map[int64]struct{}, len(entry.Values))
			for _, value := range entry.Values {
				point, err := parseSample(value)
				if err != nil {
					return nil, err
				}
				ts := point.Timestamp.Unix()
				if _, dup := seen[ts]; dup {
					continue
				}
				seen[ts] = struct{}{}
				points = append(points, point)
			}
			sort.Slice(points, func(i, j int) bool {
				return points[i].Timestamp.Before(points[j].Timestamp)
			})
			series = append(series, models.MetricSeries{
				Metric: metricName(entry.Metric),
				Points: points,
			})
		}
		return series, nil

	case "scalar", "string":
		return nil, fmt.Errorf("unsupported result type %q", resultType)
	default:
		return nil, fmt.Errorf("unknown result type %q", resultType)
	}
}

// parseSample decodes a [timestamp, "value"] pair. Prometheus encodes the
// timestamp as a float and the value as a string.
func parseSample(pair [2]any) (models.MetricPoint, error) {
	tsFloat, ok := pair[0].(float64)
	if !ok {
		return models.MetricPoint{}, fmt.Errorf("sample timestamp is %T, not a number", pair[0])
	}
	valueStr, ok := pair[1].(string)
	if !ok {
		return models.MetricPoint{}, fmt.Errorf("sample value is %T, not a string", pair[1])
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return models.MetricPoint{}, fmt.Errorf("parse sample value %q: %v", valueStr, err)
	}
	sec := int64(tsFloat)
	nsec := int64((tsFloat - float64(sec)) * float64(time.Second))
	return models.MetricPoint{Timestamp: time.Unix(sec, nsec).UTC(), Value: value}, nil
}

func metricName(labels map[string]string) string {
	if name, ok := labels["__name__"]; ok && name != "" {
		return name
	}
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, ",")
}

func (c *Client) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}
