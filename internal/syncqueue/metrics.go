package syncqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports queue activity as Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	enqueued       *prometheus.CounterVec
	synced         *prometheus.CounterVec
	retried        *prometheus.CounterVec
	purged         *prometheus.CounterVec
	pending        prometheus.Gauge
	submitDuration *prometheus.HistogramVec
}

// NewMetrics creates collectors on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "nomo"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.enqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "enqueued_total",
			Help:      "Operations added to the offline queue",
		},
		[]string{"kind"},
	)

	m.synced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "synced_total",
			Help:      "Operations accepted by the remote authority",
		},
		[]string{"kind"},
	)

	m.retried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "retries_total",
			Help:      "Failed submission attempts left queued for retry",
		},
		[]string{"kind"},
	)

	m.purged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "failed_total",
			Help:      "Operations purged after exhausting their retries",
		},
		[]string{"kind"},
	)

	m.pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pending",
			Help:      "Operations currently queued",
		},
	)

	m.submitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "submit_duration_seconds",
			Help:      "Latency of settlement submissions",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"result"},
	)

	m.registry.MustRegister(
		m.enqueued,
		m.synced,
		m.retried,
		m.purged,
		m.pending,
		m.submitDuration,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordEnqueue(kind Kind) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordSynced(kind Kind) {
	if m == nil {
		return
	}
	m.synced.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordRetry(kind Kind) {
	if m == nil {
		return
	}
	m.retried.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordPurged(kind Kind) {
	if m == nil {
		return
	}
	m.purged.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) observeSubmit(result string, seconds float64) {
	if m == nil {
		return
	}
	m.submitDuration.WithLabelValues(result).Observe(seconds)
}
