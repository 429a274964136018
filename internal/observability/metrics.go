package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Admissions          *prometheus.CounterVec
	EventsRecorded      *prometheus.CounterVec
	AnalyticsQueries    *prometheus.CounterVec
	RPCRequests         *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admissions_total",
				Help: "Rate limiter decisions",
			},
			[]string{"decision"},
		),
		EventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_events_recorded_total",
				Help: "Metrics events by type and outcome",
			},
			[]string{"event_type", "result"},
		),
		AnalyticsQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_analytics_queries_total",
				Help: "Analytics queries by type and outcome",
			},
			[]string{"query_type", "result"},
		),
		RPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rpc_requests_total",
				Help: "Upstream RPC requests by network and outcome",
			},
			[]string{"network", "result"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Admissions,
		m.EventsRecorded,
		m.AnalyticsQueries,
		m.RPCRequests,
		m.HTTPRequestDuration,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordAdmission(decision string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) RecordQuery(queryType, result string) {
	if m == nil {
		return
	}
	m.AnalyticsQueries.WithLabelValues(queryType, result).Inc()
}

func (m *Metrics) RecordRPC(network, result string) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(network, result).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
