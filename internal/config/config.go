package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the inference engine.
type Config struct {
	Server     ServerConfig           `yaml:"server"`
	Prometheus PrometheusConfig       `yaml:"prometheus"`
	Serving    ServingConfig          `yaml:"serving"`
	Models     map[string]ModelConfig `yaml:"models"`
	Features   FeaturesConfig         `yaml:"features"`
	Request    RequestConfig          `yaml:"request"`
	Logging    LoggingConfig          `yaml:"logging"`
	Rules      RulesConfig            `yaml:"rules"`
	Cache      CacheConfig            `yaml:"cache"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// PrometheusConfig configures access to the monitoring backend query API.
type PrometheusConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	QueryPath      string        `yaml:"queryPath"`
	RangeQueryPath string        `yaml:"rangeQueryPath"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ServingConfig configures the model-serving proxy.
type ServingConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	HealthRetries int           `yaml:"healthRetries"`
}

// ModelConfig declares one logical model. ServingName overrides the
// serving-side identifier; empty means the logical name is used.
type ModelConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	ServingName string   `yaml:"servingName"`
	Namespace   string   `yaml:"namespace"`
	Family      string   `yaml:"family"`
	EnsembleOf  []string `yaml:"ensembleOf"`
}

// DerivedConfig declares one derived feature generator in catalogue order.
type DerivedConfig struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Window int    `yaml:"window"`
	Offset int    `yaml:"offset"`
}

// FeaturesConfig pins the feature catalogue constants. ExpectedCounts is the
// per-family total the offline training pipeline published; startup fails if
// the catalogue arithmetic disagrees with it.
type FeaturesConfig struct {
	LookbackSteps  int             `yaml:"lookbackSteps"`
	Step           time.Duration   `yaml:"step"`
	Derived        []DerivedConfig `yaml:"derived"`
	ExpectedCounts map[string]int  `yaml:"expectedCounts"`
}

// RequestConfig bounds whole analysis requests.
type RequestConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls rule-pack loading for the post-processor.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Valkey-backed caching of range-query results.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	TLS          bool          `yaml:"tls"`
	QueryTTL     time.Duration `yaml:"queryTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("INFERENCE_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Prometheus: PrometheusConfig{
			QueryPath:      "/api/v1/query",
			RangeQueryPath: "/api/v1/query_range",
			Timeout:        10 * time.Second,
		},
		Serving: ServingConfig{
			Timeout:       30 * time.Second,
			HealthRetries: 1,
		},
		Models: map[string]ModelConfig{},
		Features: FeaturesConfig{
			LookbackSteps: 24,
			Step:          time.Hour,
			Derived: []DerivedConfig{
				{Name: "rolling_mean_6", Kind: "rolling_mean", Window: 6},
				{Name: "rolling_std_6", Kind: "rolling_std", Window: 6},
				{Name: "lag_1", Kind: "lag", Offset: 1},
				{Name: "diff_1", Kind: "diff", Offset: 1},
				{Name: "pct_change_1", Kind: "pct_change", Offset: 1},
			},
			ExpectedCounts: map[string]int{},
		},
		Request: RequestConfig{Timeout: 60 * time.Second},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			QueryTTL:     30 * time.Second,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Features.LookbackSteps <= 0 {
		return fmt.Errorf("features.lookbackSteps must be positive")
	}
	if cfg.Features.Step <= 0 {
		return fmt.Errorf("features.step must be positive")
	}
	if len(cfg.Features.Derived) == 0 {
		return fmt.Errorf("features.derived must declare at least one generator")
	}
	for name, m := range cfg.Models {
		if m.Endpoint == "" && len(m.EnsembleOf) == 0 {
			return fmt.Errorf("model %q: endpoint is required", name)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INFERENCE_ENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("INFERENCE_ENGINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("INFERENCE_ENGINE_PROMETHEUS_URL"); v != "" {
		cfg.Prometheus.BaseURL = v
	}
	if v := os.Getenv("INFERENCE_ENGINE_PROMETHEUS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Prometheus.Timeout = d
		}
	}
	if v := os.Getenv("INFERENCE_ENGINE_SERVING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Serving.Timeout = d
		}
	}
	if v := os.Getenv("INFERENCE_ENGINE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Request.Timeout = d
		}
	}
	if v := os.Getenv("INFERENCE_ENGINE_LOOKBACK_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Features.LookbackSteps = n
		}
	}
	if v := os.Getenv("INFERENCE_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("INFERENCE_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("INFERENCE_ENGINE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("INFERENCE_ENGINE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("INFERENCE_ENGINE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("INFERENCE_ENGINE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("INFERENCE_ENGINE_CACHE_QUERY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.QueryTTL = d
		}
	}
}
