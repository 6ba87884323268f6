// Package observability holds the node's process-wide Prometheus collectors.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "peerescrow"

var (
	rpcOnce    = sync.OnceValue(func() *RPCMetrics { return newRPCMetrics(prometheus.DefaultRegisterer) })
	escrowOnce = sync.OnceValue(func() *EscrowMetricsRegistry { return newEscrowMetrics(prometheus.DefaultRegisterer) })
)

// RPCMetrics counts JSON-RPC calls by method.
type RPCMetrics struct {
	calls     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttled *prometheus.CounterVec
}

// RPC returns the process-wide JSON-RPC collectors.
func RPC() *RPCMetrics { return rpcOnce() }

func newRPCMetrics(reg prometheus.Registerer) *RPCMetrics {
	f := promauto.With(reg)
	return &RPCMetrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "JSON-RPC calls by module, method and HTTP status.",
		}, []string{"module", "method", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "JSON-RPC handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"module", "method"}),
		throttled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "throttled_total",
			Help:      "Calls refused by rate limiting or replay protection.",
		}, []string{"module", "reason"}),
	}
}

// Observe records one call and the status written for it.
func (m *RPCMetrics) Observe(module, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	module, method = orUnknown(module), orUnknown(method)
	m.calls.WithLabelValues(module, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(module, method).Observe(elapsed.Seconds())
}

// RecordThrottle counts a refused call. reason is a short stable tag such as
// "rate_limit" or "replay".
func (m *RPCMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(orUnknown(module), orUnknown(reason)).Inc()
}

// EscrowMetricsRegistry implements the engine's Metrics hook.
type EscrowMetricsRegistry struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	settled    *prometheus.CounterVec
}

// EscrowMetrics returns the process-wide escrow engine collectors.
func EscrowMetrics() *EscrowMetricsRegistry { return escrowOnce() }

func newEscrowMetrics(reg prometheus.Registerer) *EscrowMetricsRegistry {
	f := promauto.With(reg)
	return &EscrowMetricsRegistry{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "operations_total",
			Help:      "Escrow operations by name and error class (ok on success).",
		}, []string{"op", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "operation_duration_seconds",
			Help:      "Escrow operation latency including lock wait and commit.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"op"}),
		settled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "settled_volume_total",
			Help:      "Base units paid out of custody by asset and settlement path.",
		}, []string{"asset", "path"}),
	}
}

func (m *EscrowMetricsRegistry) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// AddSettled records value leaving custody. Zero amounts are ignored.
func (m *EscrowMetricsRegistry) AddSettled(asset, path string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.settled.WithLabelValues(asset, path).Add(float64(amount))
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
