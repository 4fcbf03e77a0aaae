package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/solvision/service/config"
	"github.com/brojonat/solvision/service/metrics"
	"github.com/brojonat/solvision/service/solana"
	"github.com/brojonat/solvision/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	logger.Info("Prometheus metrics collector initialized")

	// Start metrics HTTP server
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Each worker process sticks to one endpoint for its lifetime
	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select solana RPC endpoint", "error", err)
		os.Exit(1)
	}
	endpointLabel := extractEndpointFromURL(endpoint)

	solanaClient := solana.NewClient(solana.NewRPCClient(endpoint), endpointLabel, solana.FetchOptions{
		Limit:        cfg.FetchLimit,
		RequestDelay: cfg.RPCRequestDelay,
	}, metricsCollector, logger)
	logger.Info("initialized solana RPC client",
		"endpoint", endpointLabel,
		"total_endpoints", len(cfg.SolanaRPCURLs),
		"fetch_limit", cfg.FetchLimit,
	)

	// Initialize Temporal worker
	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Fetcher:           solanaClient,
		Logger:            logger,
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop worker gracefully
		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
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

// extractEndpointFromURL extracts a short identifier from the Solana RPC URL for metrics labeling.
// API keys in the path or query never reach the label.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://api.devnet.solana.com" -> "devnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
//   - "https://some-endpoint.quiknode.pro/..." -> "quiknode"
func extractEndpointFromURL(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}

	host := parsed.Hostname()

	providers := []struct {
		match []string
		label string
	}{
		{[]string{"helius"}, "helius"},
		{[]string{"quiknode", "quicknode"}, "quiknode"},
		{[]string{"alchemy"}, "alchemy"},
		{[]string{"triton"}, "triton"},
		{[]string{"rpcpool"}, "rpcpool"},
		{[]string{"mainnet"}, "mainnet"},
		{[]string{"devnet"}, "devnet"},
		{[]string{"testnet"}, "testnet"},
	}
	for _, p := range providers {
		for _, m := range p.match {
			if strings.Contains(host, m) {
				return p.label
			}
		}
	}

	// Fallback to hostname
	return host
}

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
