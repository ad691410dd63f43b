// Package metrics exposes the engine's operational counters to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/policyflow/go-core/pkg/types"
)

// Metrics records authorization outcomes and timings.
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	strictChecks     prometheus.Counter
	filterQueries    prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	reloads          *prometheus.CounterVec
	auditDropped     prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a metrics instance with its own registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Authorization decisions by entity and outcome",
			},
			[]string{"entity", "outcome"},
		),
		decisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "Time spent computing one decision",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),
		strictChecks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strict_checks_total",
				Help:      "Per-record strict re-evaluations",
			},
		),
		filterQueries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_queries_total",
				Help:      "Decisions answered with a compiled query filter",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Decision cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Decision cache misses",
			},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_reloads_total",
				Help:      "Policy reload attempts by result",
			},
			[]string{"result"},
		),
		auditDropped: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "audit_dropped_events",
				Help:      "Audit events dropped due to a full buffer",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.decisionDuration,
		m.strictChecks,
		m.filterQueries,
		m.cacheHits,
		m.cacheMisses,
		m.reloads,
		m.auditDropped,
	)
	return m
}

func (m *Metrics) RecordDecision(entity string, kind types.DecisionKind, elapsed time.Duration) {
	m.decisionsTotal.WithLabelValues(entity, string(kind)).Inc()
	m.decisionDuration.Observe(elapsed.Seconds())
	if kind == types.DecisionFiltered {
		m.filterQueries.Inc()
	}
}

func (m *Metrics) RecordStrictCheck() {
	m.strictChecks.Inc()
}

func (m *Metrics) RecordCacheHit(hit bool) {
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) RecordReload(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}

func (m *Metrics) SetAuditDropped(n uint64) {
	m.auditDropped.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
