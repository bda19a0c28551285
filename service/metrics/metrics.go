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

	// Indexing Metrics
	indexRunsTotal        *prometheus.CounterVec
	indexRunDuration      *prometheus.HistogramVec
	signaturesListedTotal *prometheus.CounterVec
	signaturesSkipped     *prometheus.CounterVec
	signaturesTruncated   *prometheus.CounterVec
	transactionsFetched   *prometheus.CounterVec
	balanceEntriesSkipped *prometheus.CounterVec
	transfersFoundTotal   *prometheus.CounterVec

	// Workflow Metrics
	indexActivityDuration *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

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

		// Indexing Metrics
		indexRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_runs_total",
				Help: "Total number of transfer indexing runs by outcome",
			},
			[]string{"status"},
		),
		indexRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_run_duration_seconds",
				Help:    "Duration of transfer indexing runs in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		signaturesListedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signatures_listed_total",
				Help: "Total number of signatures returned by the signature lister",
			},
			[]string{"wallet_address"},
		),
		signaturesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signatures_skipped_total",
				Help: "Total number of signatures skipped before fetching",
			},
			[]string{"wallet_address", "reason"},
		),
		signaturesTruncated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signature_history_truncated_total",
				Help: "Number of indexing runs whose signature history hit the configured cap",
			},
			[]string{"wallet_address"},
		),
		transactionsFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_fetched_total",
				Help: "Total number of transactions fetched for reconciliation",
			},
			[]string{"wallet_address"},
		),
		balanceEntriesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_entries_skipped_total",
				Help: "Total number of token balance entries or transactions skipped during reconciliation",
			},
			[]string{"wallet_address", "reason"},
		),
		transfersFoundTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_found_total",
				Help: "Total number of transfer records produced",
			},
			[]string{"wallet_address", "direction"},
		),

		// Workflow Metrics
		indexActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_activity_duration_seconds",
				Help:    "Duration of index workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"activity", "wallet_address"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 10, 60},
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

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
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

// Indexing metric helpers

// RecordIndexRun records the outcome and duration of one indexing run.
func (m *Metrics) RecordIndexRun(status string, duration float64) {
	m.indexRunsTotal.WithLabelValues(status).Inc()
	m.indexRunDuration.WithLabelValues(status).Observe(duration)
}

// RecordSignaturesListed records signatures returned by the lister.
func (m *Metrics) RecordSignaturesListed(walletAddress string, count int) {
	m.signaturesListedTotal.WithLabelValues(walletAddress).Add(float64(count))
}

// RecordSignatureSkipped records a signature skipped before fetching.
func (m *Metrics) RecordSignatureSkipped(walletAddress, reason string) {
	m.signaturesSkipped.WithLabelValues(walletAddress, reason).Inc()
}

// RecordHistoryTruncated records a run that hit the signature cap.
func (m *Metrics) RecordHistoryTruncated(walletAddress string) {
	m.signaturesTruncated.WithLabelValues(walletAddress).Inc()
}

// RecordTransactionFetched records a transaction fetched for reconciliation.
func (m *Metrics) RecordTransactionFetched(walletAddress string) {
	m.transactionsFetched.WithLabelValues(walletAddress).Inc()
}

// RecordBalanceEntrySkipped records a balance entry or transaction skipped during reconciliation.
func (m *Metrics) RecordBalanceEntrySkipped(walletAddress, reason string) {
	m.balanceEntriesSkipped.WithLabelValues(walletAddress, reason).Inc()
}

// RecordTransferFound records a produced transfer record.
func (m *Metrics) RecordTransferFound(walletAddress, direction string) {
	m.transfersFoundTotal.WithLabelValues(walletAddress, direction).Inc()
}

// Workflow metric helpers

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, walletAddress string, duration float64) {
	m.indexActivityDuration.WithLabelValues(activity, walletAddress).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
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
