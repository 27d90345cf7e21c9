package infra

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

const metricsNamespace = "dupguard"

// Metrics holds the prometheus collectors of one server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	guardVerdicts      *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	checkResults       *prometheus.CounterVec
	reservations       *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	serviceInfo        *prometheus.GaugeVec
}

// NewMetrics creates collectors on a private registry.
func NewMetrics(version string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.guardVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "guard_verdicts_total",
			Help:      "Precheck guard verdicts by guard and status",
		},
		[]string{"guard", "status"},
	)
	m.evaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "precheck_duration_seconds",
			Help:      "Precheck evaluation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
	m.checkResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "duplication_checks_total",
			Help:      "Duplication check results",
		},
		[]string{"result"},
	)
	m.reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome",
		},
		[]string{"outcome"},
	)
	m.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_open",
			Help:      "1 when the named circuit breaker is open",
		},
		[]string{"name"},
	)
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	m.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "service_info",
			Help:      "Service information",
		},
		[]string{"version"},
	)

	m.registry.MustRegister(
		m.guardVerdicts,
		m.evaluationDuration,
		m.checkResults,
		m.reservations,
		m.breakerState,
		m.httpRequests,
		m.httpDuration,
		m.serviceInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.serviceInfo.WithLabelValues(version).Set(1)
	return m
}

// Registry exposes the registry (for tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePrecheck records one evaluation and its per-guard verdicts.
func (m *Metrics) ObservePrecheck(result domain.PrecheckResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.evaluationDuration.Observe(elapsed.Seconds())
	for _, c := range result.Checks {
		m.guardVerdicts.WithLabelValues(c.Key, string(c.Status)).Inc()
	}
}

// ObserveCheck counts a duplication check result.
func (m *Metrics) ObserveCheck(result domain.CheckResult) {
	if m == nil {
		return
	}
	m.checkResults.WithLabelValues(string(result)).Inc()
}

// ObserveReservation counts a reservation attempt.
func (m *Metrics) ObserveReservation(won bool) {
	if m == nil {
		return
	}
	outcome := "lost"
	if won {
		outcome = "won"
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

// SetBreakerOpen records a circuit breaker state change.
func (m *Metrics) SetBreakerOpen(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerState.WithLabelValues(name).Set(v)
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}
