package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRelayCollectors(t *testing.T) {
	m := Relay()
	assert.Same(t, m, Relay())

	before := testutil.ToFloat64(m.rejections.WithLabelValues("GameExists"))
	m.ObserveRejected("relay_reserve", "GameExists")
	assert.Equal(t, before+1, testutil.ToFloat64(m.rejections.WithLabelValues("GameExists")))

	reaped := testutil.ToFloat64(m.reaped)
	m.AddReaped(3)
	m.AddReaped(-1)
	assert.Equal(t, reaped+3, testutil.ToFloat64(m.reaped))

	m.SetBatchHeight(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(m.batchHeight))
	m.SetQueueSize(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.queueSize))

	rpc := testutil.ToFloat64(m.rpcRequests.WithLabelValues("unknown", "error"))
	m.ObserveRPC("", "error")
	assert.Equal(t, rpc+1, testutil.ToFloat64(m.rpcRequests.WithLabelValues("unknown", "error")))

	m.ObserveBatch(10 * time.Millisecond)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *RelayMetrics
	assert.NotPanics(t, func() {
		m.ObserveExecuted("transfer")
		m.ObserveRejected("transfer", "")
		m.AddReaped(1)
		m.SetBatchHeight(1)
		m.SetQueueSize(1)
		m.ObserveBatch(time.Second)
		m.ObserveRPC("getHeight", "ok")
	})
}
