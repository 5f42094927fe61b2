package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// Metrics Prometheus-коллекторы storefront. nil *Metrics допустим и ничего не пишет.
type Metrics struct {
	reservations   *prometheus.CounterVec
	checkout       *prometheus.CounterVec
	sweeperExpired prometheus.Counter
	gateway        *prometheus.HistogramVec
	outbox         *prometheus.CounterVec
}

// New регистрирует коллекторы в reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Ledger operations by operation and result.",
		}, []string{"operation", "result"}),
		checkout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Checkout attempts by stage and result.",
		}, []string{"stage", "result"}),
		sweeperExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_expired_total",
			Help:      "Reservations expired by the sweeper.",
		}),
		gateway: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_gateway_seconds",
			Help:      "Payment gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events handed to Kafka by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.reservations, m.checkout, m.sweeperExpired, m.gateway, m.outbox)
	return m
}

func (m *Metrics) Reservation(operation, result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) Checkout(stage, result string) {
	if m == nil {
		return
	}
	m.checkout.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeperExpired.Add(float64(n))
}

func (m *Metrics) ObserveGateway(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.gateway.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) OutboxPublished(result string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(result).Inc()
}
