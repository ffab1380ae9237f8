// Package metrics provides Prometheus metrics for wirelink.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "wirelink"
)

// Metrics contains all Prometheus metrics for the client.
type Metrics struct {
	// Connection metrics
	Connects       prometheus.Counter
	Disconnects    *prometheus.CounterVec
	ReconnectTries prometheus.Counter
	StateChanges   *prometheus.CounterVec

	// Frame metrics
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	DecodeErrors   prometheus.Counter

	// Request metrics
	RequestsPending prometheus.Gauge
	RequestLatency  prometheus.Histogram
	RequestTimeouts prometheus.Counter

	// Auth metrics
	AuthOutcomes   *prometheus.CounterVec
	CodeRefreshes  prometheus.Counter
	KeepalivesSent prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total connections established",
		}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total disconnections by reason",
		}, []string{"reason"}),
		ReconnectTries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total reconnection attempts",
		}),
		StateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_changes_total",
			Help:      "Total state machine transitions",
		}, []string{"from", "to"}),

		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total frames sent by kind",
		}, []string{"kind"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total frames received by kind",
		}, []string{"kind"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes sent",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total inbound frames rejected by the codec",
		}),

		RequestsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_pending",
			Help:      "Number of requests awaiting a correlated reply",
		}),
		RequestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Histogram of request round-trip latency",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		RequestTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_timeouts_total",
			Help:      "Total requests that expired without a reply",
		}),

		AuthOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_outcomes_total",
			Help:      "Total authentication attempts by method and outcome",
		}, []string{"method", "outcome"}),
		CodeRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_refreshes_total",
			Help:      "Total visual code refreshes after expiry",
		}),
		KeepalivesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_sent_total",
			Help:      "Total keepalive probes sent",
		}),
	}
}

// RecordConnect records an established connection.
func (m *Metrics) RecordConnect() {
	m.Connects.Inc()
}

// RecordDisconnect records a disconnection.
func (m *Metrics) RecordDisconnect(reason string) {
	m.Disconnects.WithLabelValues(reason).Inc()
}

// RecordStateChange records a state machine transition.
func (m *Metrics) RecordStateChange(from, to string) {
	m.StateChanges.WithLabelValues(from, to).Inc()
}

// RecordFrameSent records an outbound frame.
func (m *Metrics) RecordFrameSent(kind string, bytes int) {
	m.FramesSent.WithLabelValues(kind).Inc()
	m.BytesSent.Add(float64(bytes))
}

// RecordFrameReceived records an inbound frame.
func (m *Metrics) RecordFrameReceived(kind string, bytes int) {
	m.FramesReceived.WithLabelValues(kind).Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordRequestStart records a request entering the pending set.
func (m *Metrics) RecordRequestStart() {
	m.RequestsPending.Inc()
}

// RecordRequestEnd records a resolved request with its latency.
func (m *Metrics) RecordRequestEnd(latencySeconds float64) {
	m.RequestsPending.Dec()
	m.RequestLatency.Observe(latencySeconds)
}

// RecordRequestTimeout records an expired request.
func (m *Metrics) RecordRequestTimeout() {
	m.RequestsPending.Dec()
	m.RequestTimeouts.Inc()
}

// RecordAuthOutcome records the result of an authentication attempt.
func (m *Metrics) RecordAuthOutcome(method, outcome string) {
	m.AuthOutcomes.WithLabelValues(method, outcome).Inc()
}
