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
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	verificationsTotal    *prometheus.CounterVec

	// EVM RPC Metrics
	evmRPCCallsTotal   *prometheus.CounterVec
	evmRPCCallDuration *prometheus.HistogramVec
	payoutsTotal       *prometheus.CounterVec
	payoutDuration     *prometheus.HistogramVec
	hotWalletBalance   *prometheus.GaugeVec

	// Bridge Metrics
	bridgeRequestsTotal   *prometheus.CounterVec
	bridgeRequestDuration *prometheus.HistogramVec
	claimsTotal           *prometheus.CounterVec

	// Ledger Metrics
	ledgerOpDuration *prometheus.HistogramVec
	ledgerOpsTotal   *prometheus.CounterVec

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
			[]string{"method", "status"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		verificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_verifications_total",
				Help: "Total number of Solana deposit verifications by result",
			},
			[]string{"result"},
		),

		// EVM RPC Metrics
		evmRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evm_rpc_calls_total",
				Help: "Total number of EVM RPC calls by network, method and status",
			},
			[]string{"network", "method", "status"},
		),
		evmRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evm_rpc_call_duration_seconds",
				Help:    "Duration of EVM RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"network", "method"},
		),
		payoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evm_payouts_total",
				Help: "Total number of USDC payouts by network and result",
			},
			[]string{"network", "result"},
		),
		payoutDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evm_payout_duration_seconds",
				Help:    "Duration of USDC payouts from balance check to confirmation",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
			},
			[]string{"network"},
		),
		hotWalletBalance: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hot_wallet_usdc_balance",
				Help: "Last observed hot wallet USDC balance",
			},
			[]string{"network"},
		),

		// Bridge Metrics
		bridgeRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_requests_total",
				Help: "Total number of bridge requests by network and outcome",
			},
			[]string{"network", "outcome"},
		),
		bridgeRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_request_duration_seconds",
				Help:    "Duration of bridge request processing in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"network", "outcome"},
		),
		claimsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_claims_total",
				Help: "Total number of source transaction claims by result",
			},
			[]string{"result"},
		),

		// Ledger Metrics
		ledgerOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claim_ledger_op_duration_seconds",
				Help:    "Duration of claim ledger operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"backend", "operation"},
		),
		ledgerOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claim_ledger_ops_total",
				Help: "Total number of claim ledger operations",
			},
			[]string{"backend", "operation", "status"},
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

// Solana metric helpers

// RecordSolanaRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordSolanaRPCCall(method, status string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordVerification records the outcome of a deposit verification ("valid" or a failure reason).
func (m *Metrics) RecordVerification(result string) {
	m.verificationsTotal.WithLabelValues(result).Inc()
}

// EVM metric helpers

// RecordEVMRPCCall records an EVM RPC call with duration.
func (m *Metrics) RecordEVMRPCCall(network, method string, err error, duration float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.evmRPCCallsTotal.WithLabelValues(network, method, status).Inc()
	m.evmRPCCallDuration.WithLabelValues(network, method).Observe(duration)
}

// RecordPayout records a payout attempt ("success" or a failure reason).
func (m *Metrics) RecordPayout(network, result string, duration float64) {
	m.payoutsTotal.WithLabelValues(network, result).Inc()
	m.payoutDuration.WithLabelValues(network).Observe(duration)
}

// RecordHotWalletBalance records the last observed hot wallet balance in whole USDC.
func (m *Metrics) RecordHotWalletBalance(network string, balance float64) {
	m.hotWalletBalance.WithLabelValues(network).Set(balance)
}

// Bridge metric helpers

// RecordBridgeRequest records a processed bridge request by outcome.
func (m *Metrics) RecordBridgeRequest(network, outcome string, duration float64) {
	m.bridgeRequestsTotal.WithLabelValues(network, outcome).Inc()
	m.bridgeRequestDuration.WithLabelValues(network, outcome).Observe(duration)
}

// RecordClaim records a claim attempt ("claimed", "duplicate" or "error").
func (m *Metrics) RecordClaim(result string) {
	m.claimsTotal.WithLabelValues(result).Inc()
}

// Ledger metric helpers

// RecordLedgerOp records a claim ledger operation with duration.
func (m *Metrics) RecordLedgerOp(backend, operation string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ledgerOpDuration.WithLabelValues(backend, operation).Observe(duration)
	m.ledgerOpsTotal.WithLabelValues(backend, operation, status).Inc()
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
