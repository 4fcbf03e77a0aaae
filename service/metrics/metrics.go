package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal        *prometheus.CounterVec
	solanaRPCCallDuration      *prometheus.HistogramVec
	solanaRPCRateLimitHits     *prometheus.CounterVec
	solanaRPCRetries           *prometheus.CounterVec
	solanaRPCSignaturesPerCall *prometheus.HistogramVec

	// Transaction Processing Metrics
	transactionsFetchedTotal *prometheus.CounterVec
	transactionsParsedTotal  *prometheus.CounterVec
	transactionsSkippedTotal *prometheus.CounterVec

	// Explorer Metrics
	searchesTotal         *prometheus.CounterVec
	searchDuration        *prometheus.HistogramVec
	staleResultsDiscarded prometheus.Counter
	graphNodes            prometheus.Histogram
	graphEdges            prometheus.Histogram
	activeSessions        prometheus.Gauge
	fetchWorkflowsTotal   *prometheus.CounterVec
	fetchWorkflowDuration *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		solanaRPCSignaturesPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_signatures_per_call",
				Help:    "Number of signatures fetched per GetSignaturesForAddress call",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"endpoint"},
		),

		// Transaction Processing Metrics
		transactionsFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_fetched_total",
				Help: "Total number of transactions fetched from Solana",
			},
			[]string{"source"},
		),
		transactionsParsedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_parsed_total",
				Help: "Total number of transactions parsed by outcome",
			},
			[]string{"type", "status"},
		),
		transactionsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_skipped_total",
				Help: "Total number of transactions skipped",
			},
			[]string{"reason"},
		),

		// Explorer Metrics
		searchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_searches_total",
				Help: "Total number of applied wallet searches by outcome",
			},
			[]string{"outcome"},
		),
		searchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "explorer_search_duration_seconds",
				Help:    "Time from search submission to applied outcome",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		staleResultsDiscarded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "explorer_stale_results_discarded_total",
				Help: "Total number of fetch results dropped because a newer search had started",
			},
		),
		graphNodes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "explorer_graph_nodes",
				Help:    "Number of nodes in built wallet networks",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		graphEdges: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "explorer_graph_edges",
				Help:    "Number of edges in built wallet networks",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "explorer_active_sessions",
				Help: "Number of explorer sessions held in memory",
			},
		),
		fetchWorkflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_workflow_executions_total",
				Help: "Total number of wallet fetch workflow executions",
			},
			[]string{"status"},
		),
		fetchWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_workflow_duration_seconds",
				Help:    "Duration of wallet fetch workflow executions in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"level", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"level"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordRPCSignaturesPerCall records the number of signatures fetched.
func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	m.solanaRPCSignaturesPerCall.WithLabelValues(endpoint).Observe(count)
}

// Transaction processing metric helpers

// RecordTransactionsFetched records transactions returned by a fetcher.
// Wallet addresses are deliberately not a label: every search targets a different wallet.
func (m *Metrics) RecordTransactionsFetched(source string, count int) {
	m.transactionsFetchedTotal.WithLabelValues(source).Add(float64(count))
}

// RecordTransactionParsed records a transaction parse attempt.
func (m *Metrics) RecordTransactionParsed(txnType, status string) {
	m.transactionsParsedTotal.WithLabelValues(txnType, status).Inc()
}

// RecordTransactionsSkipped records transactions skipped.
func (m *Metrics) RecordTransactionsSkipped(reason string, count int) {
	m.transactionsSkippedTotal.WithLabelValues(reason).Add(float64(count))
}

// Explorer metric helpers

// RecordSearch records an applied search outcome ("success", "empty" or "error").
func (m *Metrics) RecordSearch(outcome string, duration float64) {
	m.searchesTotal.WithLabelValues(outcome).Inc()
	m.searchDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordStaleResultDiscarded records a fetch result dropped in favour of a newer search.
func (m *Metrics) RecordStaleResultDiscarded() {
	m.staleResultsDiscarded.Inc()
}

// RecordGraphSize records the shape of a freshly built network.
func (m *Metrics) RecordGraphSize(nodes, edges int) {
	m.graphNodes.Observe(float64(nodes))
	m.graphEdges.Observe(float64(edges))
}

// RecordSessionChange records sessions being created (+1) or evicted (-1).
func (m *Metrics) RecordSessionChange(delta float64) {
	m.activeSessions.Add(delta)
}

// RecordFetchWorkflow records a fetch workflow execution as seen by the caller.
func (m *Metrics) RecordFetchWorkflow(status string, duration float64) {
	m.fetchWorkflowsTotal.WithLabelValues(status).Inc()
	m.fetchWorkflowDuration.WithLabelValues(status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(level, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(level, status).Inc()
	m.natsPublishDuration.WithLabelValues(level).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
