// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics groups the counters and gauges of the escrow engine.
type RelayMetrics struct {
	instructions  *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	reaped        prometheus.Counter
	batchHeight   prometheus.Gauge
	queueSize     prometheus.Gauge
	batchDuration prometheus.Histogram
	rpcRequests   *prometheus.CounterVec
}

var (
	relayOnce     sync.Once
	relayRegistry *RelayMetrics
)

// Relay returns the process-wide collectors, registering them on first use.
func Relay() *RelayMetrics {
	relayOnce.Do(func() {
		relayRegistry = &RelayMetrics{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_instructions_total",
				Help: "Executed instructions by type and result.",
			}, []string{"type", "result"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_rejections_total",
				Help: "Rejected instructions by error kind.",
			}, []string{"kind"}),
			reaped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_reservations_reaped_total",
				Help: "Expired reservations physically removed.",
			}),
			batchHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_batch_height",
				Help: "Height of the latest committed batch.",
			}),
			queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_queue_size",
				Help: "Instructions waiting for the next batch.",
			}),
			batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "escrow_batch_duration_seconds",
				Help:    "Time spent producing a batch.",
				Buckets: prometheus.DefBuckets,
			}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_rpc_requests_total",
				Help: "JSON-RPC calls by method and outcome.",
			}, []string{"method", "outcome"}),
		}
		prometheus.MustRegister(
			relayRegistry.instructions,
			relayRegistry.rejections,
			relayRegistry.reaped,
			relayRegistry.batchHeight,
			relayRegistry.queueSize,
			relayRegistry.batchDuration,
			relayRegistry.rpcRequests,
		)
	})
	return relayRegistry
}

func (m *RelayMetrics) ObserveExecuted(typ string) {
	if m == nil {
		return
	}
	m.instructions.WithLabelValues(typ, "ok").Inc()
}

func (m *RelayMetrics) ObserveRejected(typ, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.instructions.WithLabelValues(typ, "rejected").Inc()
	m.rejections.WithLabelValues(kind).Inc()
}

func (m *RelayMetrics) AddReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.Add(float64(n))
}

func (m *RelayMetrics) SetBatchHeight(h int64) {
	if m == nil {
		return
	}
	m.batchHeight.Set(float64(h))
}

func (m *RelayMetrics) SetQueueSize(n int) {
	if m == nil {
		return
	}
	m.queueSize.Set(float64(n))
}

func (m *RelayMetrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

func (m *RelayMetrics) ObserveRPC(method, outcome string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
}
