// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry       *prometheus.Registry
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	ledgerWrites   *prometheus.CounterVec
	ledgerDuration *prometheus.HistogramVec
	payments       *prometheus.CounterVec
	hazards        prometheus.Counter
	httpRequests   *prometheus.CounterVec
}

// New builds the collectors on a private registry so several instances can
// live in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fizit_cache_hits_total",
			Help: "Cache hits by entity.",
		}, []string{"entity"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fizit_cache_misses_total",
			Help: "Cache misses by entity.",
		}, []string{"entity"}),
		ledgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fizit_ledger_writes_total",
			Help: "Ledger writes by method and outcome.",
		}, []string{"method", "outcome"}),
		ledgerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fizit_ledger_write_duration_seconds",
			Help:    "Ledger write latency including confirmation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fizit_payments_total",
			Help: "Adapter payment calls by rail, obligation and outcome.",
		}, []string{"bank", "obligation", "outcome"}),
		hazards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fizit_reconciliation_hazards_total",
			Help: "Payments that moved funds without a ledger record.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fizit_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		m.cacheHits,
		m.cacheMisses,
		m.ledgerWrites,
		m.ledgerDuration,
		m.payments,
		m.hazards,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) CacheHit(entity string) {
	m.cacheHits.WithLabelValues(entity).Inc()
}

func (m *Metrics) CacheMiss(entity string) {
	m.cacheMisses.WithLabelValues(entity).Inc()
}

// LedgerWrite records one write attempt; outcome is "ok" or "failed".
func (m *Metrics) LedgerWrite(method, outcome string, elapsed time.Duration) {
	m.ledgerWrites.WithLabelValues(method, outcome).Inc()
	m.ledgerDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) Payment(bank, obligation, outcome string) {
	m.payments.WithLabelValues(bank, obligation, outcome).Inc()
}

func (m *Metrics) Hazard() {
	m.hazards.Inc()
}

func (m *Metrics) HTTPRequest(route, status string) {
	m.httpRequests.WithLabelValues(route, status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
