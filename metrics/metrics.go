// Package metrics exposes Prometheus instrumentation for the ledger engine.
//
// A nil *Metrics is valid and records nothing, so engines built without
// metrics (tests, tools) need no special casing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all ledger metrics
type Metrics struct {
	registry *prometheus.Registry

	MovementsPosted     *prometheus.CounterVec
	SalesReplayed       prometheus.Counter
	OversellRejections  prometheus.Counter
	RetryAttempts       *prometheus.CounterVec
	ConflictsExhausted  *prometheus.CounterVec
	DocumentTransitions *prometheus.CounterVec
	UnitOfWorkDuration  *prometheus.HistogramVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "storeledger",
		Subsystem: "ledger",
	}
}

// New creates a Metrics instance backed by a private registry.
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.MovementsPosted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "movements_posted_total",
		Help:      "Inventory transactions that reached POSTED, by type",
	}, []string{"type"})

	m.SalesReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "sales_replayed_total",
		Help:      "Sale calls answered from an existing row by idempotency key",
	})

	m.OversellRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "oversell_rejections_total",
		Help:      "Movements rejected because on-hand would go negative",
	})

	m.RetryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "retry_attempts_total",
		Help:      "Units of work retried after a write-write conflict",
	}, []string{"operation"})

	m.ConflictsExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "conflicts_exhausted_total",
		Help:      "Units of work that failed after the retry budget",
	}, []string{"operation"})

	m.DocumentTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "document_transitions_total",
		Help:      "Lifecycle transitions applied, by document and target status",
	}, []string{"document", "status"})

	m.UnitOfWorkDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "unit_of_work_duration_seconds",
		Help:      "Duration of ledger units of work including retries",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "outcome"})

	registry.MustRegister(
		m.MovementsPosted,
		m.SalesReplayed,
		m.OversellRejections,
		m.RetryAttempts,
		m.ConflictsExhausted,
		m.DocumentTransitions,
		m.UnitOfWorkDuration,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MovementPosted(txType string) {
	if m == nil {
		return
	}
	m.MovementsPosted.WithLabelValues(txType).Inc()
}

func (m *Metrics) SaleReplayed() {
	if m == nil {
		return
	}
	m.SalesReplayed.Inc()
}

func (m *Metrics) OversellRejected() {
	if m == nil {
		return
	}
	m.OversellRejections.Inc()
}

func (m *Metrics) RetryAttempted(operation string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

func (m *Metrics) ConflictExhausted(operation string) {
	if m == nil {
		return
	}
	m.ConflictsExhausted.WithLabelValues(operation).Inc()
}

func (m *Metrics) DocumentTransition(document, status string) {
	if m == nil {
		return
	}
	m.DocumentTransitions.WithLabelValues(document, status).Inc()
}

// ObserveUnitOfWork records how long an operation took and whether it failed.
func (m *Metrics) ObserveUnitOfWork(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UnitOfWorkDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}
