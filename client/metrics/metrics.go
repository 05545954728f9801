// Package metrics collects run metrics in a prometheus registry and
// writes them in the text exposition format, e.g. for the node_exporter
// textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fivecolleges/compassprobe/selector"
)

type Metrics struct {
	r *prometheus.Registry

	ProbesTotal   *prometheus.CounterVec
	ProbeDuration *prometheus.HistogramVec
	ProbeBytes    *prometheus.CounterVec
	LastRun       *prometheus.GaugeVec

	Selector *selector.Metrics
}

func New() *Metrics {
	r := prometheus.NewRegistry()

	m := &Metrics{
		r: r,

		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_requests_total",
				Help: "Probe requests by environment and result",
			},
			[]string{"environment", "result"},
		),

		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "probe_duration_seconds",
				Help:    "Probe transfer time",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"environment"},
		),

		ProbeBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_response_bytes_total",
				Help: "Bytes received by probes",
			},
			[]string{"environment"},
		),

		LastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "probe_last_run_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
			[]string{"environment"},
		),
	}

	r.MustRegister(m.ProbesTotal, m.ProbeDuration, m.ProbeBytes, m.LastRun)
	m.Selector = selector.NewMetrics(r)

	return m
}

// Registry returns the registerer for additional metrics.
func (m *Metrics) Registry() prometheus.Registerer {
	return m.r
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.r
}

// ObserveProbe counts one probe. Failed probes are counted but not
// observed in the duration histogram.
func (m *Metrics) ObserveProbe(env string, elapsed time.Duration, bytes int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ProbesTotal.WithLabelValues(env, "error").Inc()
		return
	}
	m.ProbesTotal.WithLabelValues(env, "ok").Inc()
	m.ProbeDuration.WithLabelValues(env).Observe(elapsed.Seconds())
	m.ProbeBytes.WithLabelValues(env).Add(float64(bytes))
}

// Finish marks the end of a run.
func (m *Metrics) Finish(env string, t time.Time) {
	if m == nil {
		return
	}
	m.LastRun.WithLabelValues(env).Set(float64(t.Unix()))
}

// WriteTextfile writes all metrics to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.r)
}
