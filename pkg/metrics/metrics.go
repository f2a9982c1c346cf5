// Package metrics provides Prometheus instrumentation for the connector:
// pool occupancy, extraction outcomes, backend latency, and circuit breaker
// state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExtractionsTotal counts extraction operations by system, entity and outcome
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmconnect_extractions_total",
			Help: "Total extraction operations by target system, entity, and outcome",
		},
		[]string{"system_id", "entity", "outcome"},
	)

	// BackendLatency observes query/call latency against the backend
	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cmconnect_backend_latency_seconds",
			Help:    "Latency of backend queries and API calls",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"system_id", "protocol"},
	)

	// PoolConnections reports pool occupancy per system and state
	PoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cmconnect_pool_connections",
			Help: "Connection pool occupancy by state (total, available, in_use, pending)",
		},
		[]string{"system_id", "state"},
	)

	// BreakerState reports the circuit breaker state per system
	// (0 closed, 1 open, 2 half-open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cmconnect_circuit_breaker_state",
			Help: "Circuit breaker state per target system (0 closed, 1 open, 2 half-open)",
		},
		[]string{"system_id"},
	)

	// VersionDetections counts detection outcomes
	VersionDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmconnect_version_detections_total",
			Help: "Version detection outcomes by detected release family",
		},
		[]string{"system_id", "version"},
	)
)

// Timer measures the duration of a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveBackend records one backend round trip.
func ObserveBackend(systemID, protocol string, elapsed time.Duration) {
	BackendLatency.WithLabelValues(systemID, protocol).Observe(elapsed.Seconds())
}

// RecordExtraction records one extraction outcome.
func RecordExtraction(systemID, entity, outcome string) {
	ExtractionsTotal.WithLabelValues(systemID, entity, outcome).Inc()
}

// SetPoolMetrics publishes a pool occupancy snapshot.
func SetPoolMetrics(systemID string, total, available, inUse, pending int) {
	PoolConnections.WithLabelValues(systemID, "total").Set(float64(total))
	PoolConnections.WithLabelValues(systemID, "available").Set(float64(available))
	PoolConnections.WithLabelValues(systemID, "in_use").Set(float64(inUse))
	PoolConnections.WithLabelValues(systemID, "pending").Set(float64(pending))
}
