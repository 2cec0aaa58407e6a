package settlement

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts settlement outcomes.
type Metrics struct {
	outcomes   *prometheus.CounterVec
	volume     *prometheus.CounterVec
	reconciled *prometheus.CounterVec
}

// NewMetrics registers settlement metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payplatform",
			Subsystem: "settlement",
			Name:      "outcomes_total",
			Help:      "Settlement records reaching a status, by protocol.",
		}, []string{"protocol", "status"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payplatform",
			Subsystem: "settlement",
			Name:      "captured_minor_total",
			Help:      "Captured gross amount in minor units, by purpose.",
		}, []string{"purpose"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payplatform",
			Subsystem: "settlement",
			Name:      "reconciled_total",
			Help:      "Payout status checks by the reconciler, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.outcomes, m.volume, m.reconciled)
	return m
}

func (m *Metrics) observe(rec *Record) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(rec.Protocol), string(rec.Status)).Inc()
	if rec.Status == StatusDebitOK {
		m.volume.WithLabelValues(string(rec.Purpose)).Add(float64(rec.GrossAmount.AmountMinor))
	}
}

func (m *Metrics) reconcile(result string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(result).Inc()
}
