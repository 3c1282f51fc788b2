package resilience

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	state    *prometheus.GaugeVec
}

// NewMetrics registers collectors in reg. A nil reg gives working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carriergate",
			Name:      "carrier_calls_total",
			Help:      "Vendor calls by carrier and outcome.",
		}, []string{"carrier", "op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carriergate",
			Name:      "carrier_call_duration_seconds",
			Help:      "Vendor call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"carrier", "op"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "carriergate",
			Name:      "circuit_breaker_state",
			Help:      "Breaker state per carrier: 0 closed, 1 open, 2 half-open.",
		}, []string{"carrier"}),
	}
	if reg != nil {
		m.calls = register(reg, m.calls)
		m.duration = register(reg, m.duration)
		m.state = register(reg, m.state)
	}
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observe(carrier, op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(carrier, op, outcome).Inc()
	if d > 0 {
		m.duration.WithLabelValues(carrier, op).Observe(d.Seconds())
	}
}

func (m *Metrics) setState(carrier string, s State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(carrier).Set(float64(s))
}
