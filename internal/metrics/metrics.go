// Package metrics owns the Prometheus collectors of the engine. Every
// method is safe on a nil *Metrics so components can run unobserved.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ztguard"

type Metrics struct {
	registry *prometheus.Registry

	scansTotal        *prometheus.CounterVec
	scanDegraded      prometheus.Counter
	ruleMatches       *prometheus.CounterVec
	mlDuration        prometheus.Histogram
	alertsRaised      *prometheus.CounterVec
	alertsDeduped     prometheus.Counter
	statusTransitions *prometheus.CounterVec
	connections       *prometheus.CounterVec
}

// New creates the collectors on a private registry (the default registry
// is left untouched) together with the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "URL scans persisted, by verdict and severity.",
		}, []string{"verdict", "severity"}),
		scanDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_degraded_total",
			Help:      "Scans scored without an ML score.",
		}),
		ruleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_matches_total",
			Help:      "Rule catalog matches, by rule.",
		}, []string{"rule"}),
		mlDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ml_score_duration_seconds",
			Help:      "Latency of ML score provider calls.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts created, by type and severity.",
		}, []string{"type", "severity"}),
		alertsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_deduplicated_total",
			Help:      "Raise calls collapsed into an existing alert.",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Threat record status changes.",
		}, []string{"from", "to"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connection records ingested, by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.scansTotal, m.scanDegraded, m.ruleMatches, m.mlDuration,
		m.alertsRaised, m.alertsDeduped, m.statusTransitions, m.connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ScanCompleted(verdict, severity string) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(verdict, severity).Inc()
}

func (m *Metrics) ScanDegraded() {
	if m == nil {
		return
	}
	m.scanDegraded.Inc()
}

func (m *Metrics) RuleMatched(rule string) {
	if m == nil {
		return
	}
	m.ruleMatches.WithLabelValues(rule).Inc()
}

func (m *Metrics) ObserveMLDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.mlDuration.Observe(d.Seconds())
}

func (m *Metrics) AlertRaised(alertType, severity string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) AlertDeduplicated() {
	if m == nil {
		return
	}
	m.alertsDeduped.Inc()
}

func (m *Metrics) StatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ConnectionRecorded(blocked bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if blocked {
		outcome = "blocked"
	}
	m.connections.WithLabelValues(outcome).Inc()
}
