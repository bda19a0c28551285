package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/splindex/service/config"
	"github.com/brojonat/splindex/service/metrics"
	"github.com/brojonat/splindex/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the indexing service.
type Server struct {
	addr    string
	cfg     *config.Config
	indexer temporal.TransferIndexer
	jobs    temporal.JobClient
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The jobs client is optional - if nil, the index-job endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, idx temporal.TransferIndexer, jobs temporal.JobClient, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		cfg:     cfg,
		indexer: idx,
		jobs:    jobs,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed handler, wrapped in CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	route("GET /api/v1/transfers", "/api/v1/transfers",
		handleListTransfers(s.indexer, s.cfg.TokenMintAddress, s.cfg.IndexTimeout, s.logger))

	// Job endpoints (if a Temporal client is configured)
	if s.jobs != nil {
		route("POST /api/v1/index-jobs", "/api/v1/index-jobs",
			handleStartIndexJob(s.jobs, s.cfg.TokenMintAddress, s.cfg.IndexTimeout, s.logger))
		route("GET /api/v1/index-jobs/{workflow_id}", "/api/v1/index-jobs/{workflow_id}",
			handleGetIndexJob(s.jobs, s.logger))
	} else {
		s.logger.Warn("temporal client not configured, index-job endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// The synchronous transfers endpoint can run for up to IndexTimeout.
	writeTimeout := s.cfg.IndexTimeout + 15*time.Second

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
