package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Reservation("reserve", "ok")
	m.Reservation("reserve", "ok")
	m.Reservation("reserve", "insufficient_stock")
	m.Checkout("finalize", "declined")
	m.Expired(3)
	m.Expired(0)
	m.OutboxPublished("sent")
	m.ObserveGateway("capture", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reservations.WithLabelValues("reserve", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues("reserve", "insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkout.WithLabelValues("finalize", "declined")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweeperExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outbox.WithLabelValues("sent")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.gateway))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Reservation("reserve", "ok")
		m.Checkout("prepare", "ok")
		m.Expired(1)
		m.ObserveGateway("capture", time.Second)
		m.OutboxPublished("failed")
	})
}
