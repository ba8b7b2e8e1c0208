// Package metrics exposes attendance counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	checkins      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	sweepRuns     *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	reports       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		checkins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educheck_checkins_total",
			Help: "Check-in requests by result status.",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educheck_notifications_total",
			Help: "Guardian notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educheck_sweep_runs_total",
			Help: "Absence sweep runs by result.",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "educheck_sweep_duration_seconds",
			Help:    "Wall time of absence sweep runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educheck_reports_total",
			Help: "Monthly report runs by result.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(
		m.checkins, m.notifications, m.sweepRuns, m.sweepDuration, m.reports,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) CheckIn(status string) {
	if m == nil {
		return
	}
	m.checkins.WithLabelValues(status).Inc()
}

func (m *Metrics) Notification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

// Sweep records one run. result is "ok", "skipped" (not a school day) or "failed".
func (m *Metrics) Sweep(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(d.Seconds())
}

// Report records one run. result is "generated", "empty" or "failed".
func (m *Metrics) Report(result string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
