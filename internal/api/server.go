package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kubeaiops/inference-engine/internal/config"
)

// Server wraps the HTTP server implementation and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
}

// NewServer constructs an HTTP server bound to the configured address.
func NewServer(cfg config.ServerConfig, handlers *Handlers) *Server {
	mux := http.NewServeMux()
	handlers.Register(mux)

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Address,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
	}
}

// Start serves incoming requests until Shutdown is invoked.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown attempts a graceful shutdown within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Address exposes the configured listen address (useful for tests).
func (s *Server) Address() string {
	return s.cfg.Address
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
