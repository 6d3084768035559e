// Package metrics exposes Prometheus collectors for state transitions and
// enhancement runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "corona"

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	transitions    *prometheus.CounterVec
	upsertDuration *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	chainLogs      *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State coordinator events by domain and kind.",
		}, []string{"domain", "kind"}),
		upsertDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upsert_duration_seconds",
			Help:      "Time from upsert start to commit or failure.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"domain", "outcome"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enhance_runs_total",
			Help:      "Enhancement runs by whether the runtime file was rewritten.",
		}, []string{"written"}),
		chainLogs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_logs_total",
			Help:      "Chain step log lines by level.",
		}, []string{"level"}),
	}
}

// Transition counts one coordinator event.
func (m *Metrics) Transition(domain, kind string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(domain, kind).Inc()
}

// Upsert observes a finished upsert. outcome is "committed" or the failure
// kind.
func (m *Metrics) Upsert(domain, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upsertDuration.WithLabelValues(domain, outcome).Observe(elapsed.Seconds())
}

// Run counts an enhancement run and its log lines per level.
func (m *Metrics) Run(written bool, levels map[string]int) {
	if m == nil {
		return
	}
	label := "false"
	if written {
		label = "true"
	}
	m.runs.WithLabelValues(label).Inc()
	for level, n := range levels {
		m.chainLogs.WithLabelValues(level).Add(float64(n))
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
