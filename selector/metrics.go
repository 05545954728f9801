package selector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the prometheus metrics for the selector
type Metrics struct {
	Selections *prometheus.CounterVec
	Rejections prometheus.Counter
	Attempts   prometheus.Histogram
}

// NewMetrics creates and registers the selector metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "selector_selections_total",
				Help: "Selections by result (new, reused, exhausted)",
			},
			[]string{"result"},
		),

		Rejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "selector_rejections_total",
				Help: "Candidates discarded because they were selected too recently",
			},
		),

		Attempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "selector_attempts",
				Help:    "Candidates drawn per selection",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}

	reg.MustRegister(m.Selections, m.Rejections, m.Attempts)

	return m
}

func (m *Metrics) selected(reused bool, attempts int) {
	if m == nil {
		return
	}
	result := "new"
	if reused {
		result = "reused"
	}
	m.Selections.WithLabelValues(result).Inc()
	m.Attempts.Observe(float64(attempts))
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.Rejections.Inc()
}

func (m *Metrics) exhausted(attempts int) {
	if m == nil {
		return
	}
	m.Selections.WithLabelValues("exhausted").Inc()
	m.Attempts.Observe(float64(attempts))
}
