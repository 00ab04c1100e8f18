// Package metrics exposes Prometheus instrumentation for the engines and
// the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const namespace = "kestrel"

// Metrics holds every collector on a private registry so tests and multiple
// servers in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	reconRuns     *prometheus.CounterVec
	reconDuration prometheus.Histogram
	reconStatus   *prometheus.GaugeVec
	matchRate     prometheus.Gauge
	taxAtRisk     prometheus.Gauge
	fraudRing     prometheus.Gauge
	cycleFailures prometheus.Counter
	riskRuns      *prometheus.CounterVec
	riskDuration  prometheus.Histogram
	riskTiers     *prometheus.GaugeVec
	eligibility   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	recompute     *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers the Kestrel collectors plus Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reconRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "reconciliation", Name: "runs_total", Help: "Reconciliation runs by outcome."},
			[]string{"outcome"},
		),
		reconDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Namespace: namespace, Subsystem: "reconciliation", Name: "duration_seconds", Help: "Reconciliation run duration.", Buckets: prometheus.ExponentialBuckets(0.01, 2, 12)},
		),
		reconStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "reconciliation", Name: "invoices", Help: "Invoices per match status in the latest run."},
			[]string{"status"},
		),
		matchRate: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "reconciliation", Name: "match_rate_percent", Help: "Full-match percentage of the latest run."},
		),
		taxAtRisk: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "reconciliation", Name: "tax_at_risk", Help: "Tax exposed by non-matching invoices in the latest run."},
		),
		fraudRing: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "reconciliation", Name: "fraud_ring_participants", Help: "Taxpayers in detected invoicing rings."},
		),
		cycleFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "reconciliation", Name: "cycle_detection_failures_total", Help: "Ring searches that failed and yielded an empty report."},
		),
		riskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "risk", Name: "runs_total", Help: "Risk scoring runs by outcome."},
			[]string{"outcome"},
		),
		riskDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Namespace: namespace, Subsystem: "risk", Name: "duration_seconds", Help: "Risk scoring run duration.", Buckets: prometheus.ExponentialBuckets(0.01, 2, 12)},
		),
		riskTiers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "risk", Name: "vendors", Help: "Vendors per risk tier in the latest run."},
			[]string{"tier"},
		),
		eligibility: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "eligibility", Name: "checks_total", Help: "Credit eligibility decisions."},
			[]string{"eligible"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "lookups_total", Help: "Byte cache lookups by result."},
			[]string{"result"},
		),
		recompute: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "worker", Name: "recompute_total", Help: "Recompute requests handled by scope and outcome."},
			[]string{"scope", "outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "http", Name: "requests_total", Help: "HTTP requests by route and status."},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds", Help: "HTTP request latency.", Buckets: prometheus.DefBuckets},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reconRuns, m.reconDuration, m.reconStatus, m.matchRate, m.taxAtRisk, m.fraudRing, m.cycleFailures,
		m.riskRuns, m.riskDuration, m.riskTiers,
		m.eligibility, m.cacheLookups, m.recompute,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveReconciliation records a finished run. run is nil on failure.
func (m *Metrics) ObserveReconciliation(run *domain.ReconciliationRun, took time.Duration) {
	if m == nil {
		return
	}
	m.reconDuration.Observe(took.Seconds())
	if run == nil {
		m.reconRuns.WithLabelValues("error").Inc()
		return
	}
	m.reconRuns.WithLabelValues("ok").Inc()

	m.reconStatus.Reset()
	for status, n := range run.Summary.StatusCounts {
		m.reconStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	m.matchRate.Set(run.Summary.MatchRate)
	m.taxAtRisk.Set(run.Summary.TotalTaxAtRisk)
	m.fraudRing.Set(float64(run.Summary.FraudRingSize))
}

// ObserveRisk records a finished risk run. run is nil on failure.
func (m *Metrics) ObserveRisk(run *domain.RiskRun, took time.Duration) {
	if m == nil {
		return
	}
	m.riskDuration.Observe(took.Seconds())
	if run == nil {
		m.riskRuns.WithLabelValues("error").Inc()
		return
	}
	m.riskRuns.WithLabelValues("ok").Inc()

	counts := make(map[domain.RiskTier]int)
	for _, s := range run.Scores {
		counts[s.RiskTier]++
	}
	for _, tier := range []domain.RiskTier{domain.TierLow, domain.TierMedium, domain.TierHigh, domain.TierCritical} {
		m.riskTiers.WithLabelValues(string(tier)).Set(float64(counts[tier]))
	}
}

// ObserveCycleFailure counts a failed ring search.
func (m *Metrics) ObserveCycleFailure() {
	if m == nil {
		return
	}
	m.cycleFailures.Inc()
}

// ObserveEligibility counts one eligibility decision.
func (m *Metrics) ObserveEligibility(eligible bool) {
	if m == nil {
		return
	}
	m.eligibility.WithLabelValues(strconv.FormatBool(eligible)).Inc()
}

// ObserveCacheLookup counts a cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveRecompute counts a worker-handled recompute request.
func (m *Metrics) ObserveRecompute(scope string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.recompute.WithLabelValues(scope, outcome).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
