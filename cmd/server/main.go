package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solvision/service/config"
	"github.com/brojonat/solvision/service/db"
	"github.com/brojonat/solvision/service/explorer"
	"github.com/brojonat/solvision/service/metrics"
	natspkg "github.com/brojonat/solvision/service/nats"
	"github.com/brojonat/solvision/service/server"
	"github.com/brojonat/solvision/service/solana"
	"github.com/brojonat/solvision/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
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
		"fetch_mode", cfg.FetchMode,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize the wallet fetcher
	var fetcher explorer.Fetcher
	switch cfg.FetchMode {
	case config.FetchModeTemporal:
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Error("failed to connect to temporal", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()

		fetcher = temporal.NewFetcher(temporalClient.SDKClient(), cfg.TemporalTaskQueue, cfg.FetchTimeout, m, logger)
		logger.Info("fetching wallets through temporal workers", "task_queue", cfg.TemporalTaskQueue)

	default:
		endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
		if err != nil {
			logger.Error("failed to select solana RPC endpoint", "error", err)
			os.Exit(1)
		}

		// Note: For premium RPC endpoints, include API key in the URL
		fetcher = solana.NewClient(solana.NewRPCClient(endpoint), cfg.SolanaNetwork, solana.FetchOptions{
			Limit:        cfg.FetchLimit,
			RequestDelay: cfg.RPCRequestDelay,
		}, m, logger)
		logger.Info("initialized solana RPC client",
			"network", cfg.SolanaNetwork,
			"endpoints", len(cfg.SolanaRPCURLs),
		)
	}

	// Lookups are persisted only when a database is configured
	var store server.LookupStore
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		dbStore := db.NewStore(dbPool, m)
		if err := dbStore.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			logger.Error("failed to apply database schema", "error", err)
			os.Exit(1)
		}
		store = dbStore
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, lookups will not be persisted")
	}

	// Notifications are streamed only when NATS is configured
	var (
		publisher  natspkg.Publisher
		subscriber natspkg.Subscriber
	)
	if cfg.NATSURL != "" {
		p, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer p.Close()
		publisher = p

		s, err := natspkg.NewSubscriber(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create NATS subscriber", "error", err)
			os.Exit(1)
		}
		subscriber = s
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, notifications will not be streamed")
	}

	sessions := server.NewSessionRegistry(fetcher, publisher, m, logger)
	httpServer := server.New(cfg.ServerAddr, sessions, store, subscriber, cfg.FetchTimeout, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"persistence", store != nil,
		"streaming", subscriber != nil,
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
