package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skillbox"

// Metrics holds the server collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	classifications *prometheus.CounterVec
	rateLimitChecks *prometheus.CounterVec
	throttled       prometheus.Counter
	sopDefinitions  prometheus.Gauge
	sopTransitions  *prometheus.CounterVec
}

// NewMetrics registers every collector, plus the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.classifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classifications_total",
		Help:      "Commands classified, by risk level",
	}, []string{"level"})

	m.rateLimitChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_checks_total",
		Help:      "Rate limit checks, by outcome",
	}, []string{"allowed"})

	m.throttled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_throttled_total",
		Help:      "Requests rejected by the per-client throttle",
	})

	m.sopDefinitions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sop_definitions_loaded",
		Help:      "Number of SOP definitions currently loaded",
	})

	m.sopTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sop_transitions_total",
		Help:      "SOP run operations requested over HTTP, by action and resulting status",
	}, []string{"action", "status"})

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.classifications,
		m.rateLimitChecks,
		m.throttled,
		m.sopDefinitions,
		m.sopTransitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
