package providers

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records provider call counts and latency. A nil *Metrics is a no-op.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers provider metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payplatform",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Provider API calls by provider, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "payplatform",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider API call latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "operation"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *Metrics) observe(provider, operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(provider, operation, outcome).Inc()
	m.duration.WithLabelValues(provider, operation).Observe(d.Seconds())
}
