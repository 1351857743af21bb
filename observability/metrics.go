package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "deedescrow"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// EscrowMetrics tracks the sale state machine.
type EscrowMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	settlements *prometheus.CounterVec
	custody     prometheus.Gauge
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method and HTTP status.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// Escrow returns the escrow state machine metrics.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "escrow",
				Name:      "operations_total",
				Help:      "Escrow operations segmented by operation and outcome kind.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "escrow",
				Name:      "operation_duration_seconds",
				Help:      "Latency of escrow operations including the state commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "escrow",
				Name:      "settlements_total",
				Help:      "Settled listing rounds segmented by outcome.",
			}, []string{"outcome"}),
			custody: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "escrow",
				Name:      "custody_balance",
				Help:      "Funds currently held in escrow custody, in base units.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.latency,
			escrowRegistry.settlements,
			escrowRegistry.custody,
		)
	})
	return escrowRegistry
}

// RecordOperation counts an operation attempt and its latency.
func (m *EscrowMetrics) RecordOperation(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op = strings.TrimSpace(op)
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSettlement counts a finalized or cancelled round.
func (m *EscrowMetrics) RecordSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

// SetCustodyBalance publishes the custody balance. Values beyond float64
// precision are approximated.
func (m *EscrowMetrics) SetCustodyBalance(balance *big.Int) {
	if m == nil || balance == nil {
		return
	}
	f, _ := new(big.Float).SetInt(balance).Float64()
	m.custody.Set(f)
}
