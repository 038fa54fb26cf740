// Package metrics exposes Prometheus collectors for call handling, the
// help-request lifecycle and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. Each instance owns a
// private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	CallsTotal       *prometheus.CounterVec
	ResolvedTotal    prometheus.Counter
	ExpiredTotal     prometheus.Counter
	SweepsTotal      *prometheus.CounterVec
	StoreErrorsTotal *prometheus.CounterVec

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimitHits   *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "frontdesk"
	}

	registry := prometheus.NewRegistry()

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Caller questions handled, by outcome",
		},
		[]string{"outcome"},
	)

	resolvedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "help_requests_resolved_total",
		Help:      "Help requests resolved by a supervisor",
	})

	expiredTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "help_requests_expired_total",
		Help:      "Help requests transitioned to timeout",
	})

	sweepsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Timeout sweeps run, by result",
		},
		[]string{"result"},
	)

	storeErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed store operations",
		},
		[]string{"op"},
	)

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"route", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"route"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the per-client rate limiter",
		},
		[]string{"route"},
	)

	registry.MustRegister(
		callsTotal,
		resolvedTotal,
		expiredTotal,
		sweepsTotal,
		storeErrorsTotal,
		requestsTotal,
		requestDuration,
		rateLimitHits,
	)

	return &Metrics{
		registry:         registry,
		CallsTotal:       callsTotal,
		ResolvedTotal:    resolvedTotal,
		ExpiredTotal:     expiredTotal,
		SweepsTotal:      sweepsTotal,
		StoreErrorsTotal: storeErrorsTotal,
		RequestsTotal:    requestsTotal,
		RequestDuration:  requestDuration,
		RateLimitHits:    rateLimitHits,
	}
}

// Registry returns the private registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterPendingGauge exposes the live pending-request count, computed by
// count on every scrape.
func (m *Metrics) RegisterPendingGauge(namespace string, count func() float64) error {
	if namespace == "" {
		namespace = "frontdesk"
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "help_requests_pending",
		Help:      "Help requests currently awaiting a supervisor",
	}, count))
}

// RecordCall records the outcome of one caller question.
func (m *Metrics) RecordCall(outcome string) {
	m.CallsTotal.WithLabelValues(outcome).Inc()
}

// RecordResolved records a supervisor resolution.
func (m *Metrics) RecordResolved() {
	m.ResolvedTotal.Inc()
}

// RecordExpired records n requests moved to timeout.
func (m *Metrics) RecordExpired(n int64) {
	if n > 0 {
		m.ExpiredTotal.Add(float64(n))
	}
}

// RecordStoreError records a failed store operation.
func (m *Metrics) RecordStoreError(op string) {
	m.StoreErrorsTotal.WithLabelValues(op).Inc()
}

// RecordSweep records a sweeper run.
func (m *Metrics) RecordSweep(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SweepsTotal.WithLabelValues(result).Inc()
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRateLimitHit records a rejected request.
func (m *Metrics) RecordRateLimitHit(route string) {
	m.RateLimitHits.WithLabelValues(route).Inc()
}
