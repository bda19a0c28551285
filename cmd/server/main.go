package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/splindex/service/config"
	"github.com/brojonat/splindex/service/indexer"
	"github.com/brojonat/splindex/service/metrics"
	"github.com/brojonat/splindex/service/server"
	"github.com/brojonat/splindex/service/solana"
	"github.com/brojonat/splindex/service/temporal"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Solana RPC client against one of the configured endpoints
	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select solana endpoint", "error", err)
		os.Exit(1)
	}
	label := solana.EndpointLabel(endpoint)
	solanaClient := solana.NewClient(solana.NewRPCClient(endpoint), label, cfg.ClientOptions(), metricsCollector, logger)
	logger.Info("initialized solana RPC client",
		"endpoint", label,
		"total_endpoints", len(cfg.SolanaRPCURLs),
		"commitment", cfg.SolanaCommitment,
	)

	idx := indexer.New(solanaClient, solanaClient, cfg.IndexerOptions(), indexer.NewLogObserver(logger, metricsCollector), logger)

	// Temporal is optional for the server: without it only the synchronous
	// transfers endpoint is served.
	var jobs temporal.JobClient
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Warn("temporal unavailable, index jobs disabled", "host", cfg.TemporalHost, "error", err)
	} else {
		defer temporalClient.Close()
		jobs = temporalClient
	}

	httpServer := server.New(cfg.ServerAddr, cfg, idx, jobs, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"temporal_host", cfg.TemporalHost,
		"policy", cfg.AttributionPolicy,
		"max_signatures", cfg.MaxSignatures,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
