package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kubeaiops/inference-engine/internal/api"
	"github.com/kubeaiops/inference-engine/internal/cache"
	"github.com/kubeaiops/inference-engine/internal/config"
	"github.com/kubeaiops/inference-engine/internal/engine"
	"github.com/kubeaiops/inference-engine/internal/features"
	"github.com/kubeaiops/inference-engine/internal/metrics"
	"github.com/kubeaiops/inference-engine/internal/postprocess"
	"github.com/kubeaiops/inference-engine/internal/promapi"
	"github.com/kubeaiops/inference-engine/internal/registry"
	"github.com/kubeaiops/inference-engine/internal/services"
	"github.com/kubeaiops/inference-engine/internal/serving"
	"github.com/kubeaiops/inference-engine/internal/utils"
)

// catalogFamily names the feature catalogue shared by the pod-health model
// families. The version changes whenever the training pipeline republishes
// its feature list.
const (
	catalogFamily  = "pod-health"
	catalogVersion = "v1"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting inference-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	catalog, err := buildCatalog(cfg.Features)
	if err != nil {
		logger.Error("invalid feature catalogue", slog.Any("error", err))
		os.Exit(1)
	}
	// Catalogue drift must not reach serving: the computed count has to
	// match the count the training pipeline published.
	if err := catalog.CrossCheck(cfg.Features.ExpectedCounts[catalogFamily]); err != nil {
		logger.Error("feature catalogue drift", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	promClient := promapi.NewClient(
		cfg.Prometheus.BaseURL,
		cfg.Prometheus.QueryPath,
		cfg.Prometheus.RangeQueryPath,
		cfg.Prometheus.Timeout,
		cacheProvider,
		cfg.Cache.QueryTTL,
	)

	modelRegistry, err := registry.New(cfg.Models)
	if err != nil {
		logger.Error("failed to build model registry", slog.Any("error", err))
		os.Exit(1)
	}

	servingClient := serving.NewClient(cfg.Serving.Timeout, cfg.Serving.HealthRetries, logger)

	actionRules, err := postprocess.NewActionRules(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load action rule pack", slog.Any("error", err))
		os.Exit(1)
	}
	processor := postprocess.NewProcessor(actionRules, logger)

	pipeline := engine.NewPipeline(
		logger,
		promClient,
		features.NewBuilder(catalog),
		modelRegistry,
		servingClient,
		processor,
	)

	service := services.NewAnalysisService(logger, pipeline, modelRegistry, cfg.Request.Timeout)

	handlers := api.NewHandlers(logger, service, func() (map[string]config.ModelConfig, error) {
		reloaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return reloaded.Models, nil
	})
	server := api.NewServer(cfg.Server, handlers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("inference-engine stopped")
}

func buildCatalog(cfg config.FeaturesConfig) (features.Catalog, error) {
	derived := make([]features.DerivedSpec, 0, len(cfg.Derived))
	for _, d := range cfg.Derived {
		kind, err := features.ParseDerivedKind(d.Kind)
		if err != nil {
			return features.Catalog{}, err
		}
		derived = append(derived, features.DerivedSpec{
			Name:   d.Name,
			Kind:   kind,
			Window: d.Window,
			Offset: d.Offset,
		})
	}
	return features.NewCatalog(
		catalogFamily,
		catalogVersion,
		features.DefaultBaseMetrics(),
		derived,
		cfg.LookbackSteps,
		cfg.Step,
	)
}
