// Package metrics exposes gateway counters and latencies in Prometheus
// format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vetgate/vetgate/internal/model"
)

// Metrics holds every collector the gateway reports. A fresh registry
// backs each instance so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	decisions    *prometheus.CounterVec
	gateFailures *prometheus.CounterVec
	latency      prometheus.Histogram
	ddosBlocks   prometheus.Counter
	chainLength  prometheus.Gauge
}

// New builds the collector set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vetgate_decisions_total",
			Help: "Gate pipeline decisions by outcome.",
		}, []string{"outcome"}),
		gateFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vetgate_gate_failures_total",
			Help: "Failed gate checks by gate and severity.",
		}, []string{"gate", "severity"}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vetgate_decision_duration_seconds",
			Help:    "Wall time spent evaluating the full gate pipeline.",
			Buckets: prometheus.DefBuckets,
		}),
		ddosBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "vetgate_ddos_blocks_total",
			Help: "Requests rejected by an active volumetric block.",
		}),
		chainLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vetgate_audit_chain_entries",
			Help: "Entries written to the audit chain since start.",
		}),
	}
}

// ObserveDecision satisfies the pipeline observer interface.
func (m *Metrics) ObserveDecision(outcome model.Outcome, results []model.GateResult, elapsed time.Duration) {
	m.decisions.WithLabelValues(string(outcome)).Inc()
	for _, r := range results {
		if !r.Passed {
			m.gateFailures.WithLabelValues(r.GateID, string(r.Severity)).Inc()
		}
	}
	m.latency.Observe(elapsed.Seconds())
}

// ObserveDDoSBlock counts one short-circuited request.
func (m *Metrics) ObserveDDoSBlock() {
	m.ddosBlocks.Inc()
}

// SetChainLength records the current audit chain size.
func (m *Metrics) SetChainLength(n int) {
	m.chainLength.Set(float64(n))
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
