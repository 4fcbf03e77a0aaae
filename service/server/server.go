package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/solvision/service/metrics"
	natspkg "github.com/brojonat/solvision/service/nats"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultWriteTimeout = 15 * time.Second

// Server represents the HTTP server for the wallet explorer.
type Server struct {
	addr       string
	sessions   *SessionRegistry
	store      LookupStore
	subscriber natspkg.Subscriber
	searches   *searchRunner
	metrics    *metrics.Metrics
	logger     *slog.Logger
	server     *http.Server

	// closing ends open SSE streams on shutdown.
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new HTTP server with the given dependencies.
// The store is optional - if nil, lookups are not persisted and sessions cannot be restored.
// The subscriber is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
// Searches get fetchTimeout to complete; zero means no limit.
func New(addr string, sessions *SessionRegistry, store LookupStore, subscriber natspkg.Subscriber, fetchTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:       addr,
		sessions:   sessions,
		store:      store,
		subscriber: subscriber,
		searches:   newSearchRunner(fetchTimeout, store, logger),
		metrics:    m,
		logger:     logger,
		closing:    make(chan struct{}),
	}
}

// Handler builds the routing tree of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Session routes
	handle("POST /api/v1/sessions", "/api/v1/sessions", handleCreateSession(s.sessions, s.logger))
	handle("GET /api/v1/sessions/{id}", "/api/v1/sessions/{id}", handleGetSession(s.sessions, s.store, s.logger))
	handle("DELETE /api/v1/sessions/{id}", "/api/v1/sessions/{id}", handleDeleteSession(s.sessions, s.store, s.logger))

	// Explorer routes
	handle("POST /api/v1/sessions/{id}/search", "/api/v1/sessions/{id}/search", handleSearch(s.sessions, s.searches, s.logger))
	handle("GET /api/v1/sessions/{id}/graph", "/api/v1/sessions/{id}/graph", handleGetGraph(s.sessions))
	handle("POST /api/v1/sessions/{id}/select", "/api/v1/sessions/{id}/select", handleSelectNode(s.sessions, s.logger))
	handle("DELETE /api/v1/sessions/{id}/select", "/api/v1/sessions/{id}/select", handleClearSelection(s.sessions))
	handle("GET /api/v1/sessions/{id}/transactions", "/api/v1/sessions/{id}/transactions", handleListTransactions(s.sessions))
	handle("GET /api/v1/sessions/{id}/nodes/{node}/qr", "/api/v1/sessions/{id}/nodes/{node}/qr", handleNodeQRCode(s.sessions))

	// SSE streaming endpoint (if a subscriber is configured)
	if s.subscriber != nil {
		handle("GET /api/v1/stream/notifications/{id}", "/api/v1/stream/notifications/{id}",
			handleStreamNotifications(s.sessions, s.subscriber, s.closing, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("NATS subscriber not configured, streaming endpoint disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	var errs []error

	s.closeOnce.Do(func() { close(s.closing) })

	// Stop accepting requests first, then wind down background searches.
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.searches.shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("background searches did not finish: %w", err))
	}

	if s.subscriber != nil {
		if err := s.subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
