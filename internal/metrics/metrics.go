// Package metrics provides Prometheus-based metrics collection for scanwatch.
// It covers scan execution, live session fan-out, and API request metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all scanwatch metrics
	namespace = "scanwatch"

	subsystemScan    = "scan"
	subsystemSession = "session"
	subsystemAPI     = "api"
)

// Registry holds all Prometheus metric collectors.
type Registry struct {
	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	scanErrors   *prometheus.CounterVec

	// Session metrics
	activeSessions  prometheus.Gauge
	streamClients   *prometheus.GaugeVec
	eventsEmitted   *prometheus.CounterVec
	sessionsReaped  prometheus.Counter
	logLinesDropped prometheus.Counter

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewRegistry creates a metrics registry with all collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{registry: reg}

	m.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans by profile and final status",
		},
		[]string{"profile", "status"},
	)

	m.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scan subprocess runs in seconds",
			Buckets:   []float64{0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
		[]string{"profile"},
	)

	m.scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "errors_total",
			Help:      "Total number of scan errors by kind",
		},
		[]string{"error_type"},
	)

	m.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "active",
			Help:      "Number of sessions currently resident in the registry",
		},
	)

	m.streamClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "stream_clients",
			Help:      "Number of connected live-stream subscribers by transport",
		},
		[]string{"transport"},
	)

	m.eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "events_total",
			Help:      "Total number of session events emitted by kind",
		},
		[]string{"kind"},
	)

	m.sessionsReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "reaped_total",
			Help:      "Total number of terminal sessions evicted by the reaper",
		},
	)

	m.logLinesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "log_lines_dropped_total",
			Help:      "Total number of log lines evicted from session ring buffers",
		},
	)

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"method"},
	)

	reg.MustRegister(
		m.scansTotal, m.scanDuration, m.scanErrors,
		m.activeSessions, m.streamClients, m.eventsEmitted,
		m.sessionsReaped, m.logLinesDropped,
		m.httpRequests, m.httpDuration,
	)

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns the HTTP handler exposing the registry in Prometheus format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncrementScansTotal increments the total scan counter.
func (m *Registry) IncrementScansTotal(profile, status string) {
	m.scansTotal.WithLabelValues(profile, status).Inc()
}

// RecordScanDuration records a scan subprocess duration.
func (m *Registry) RecordScanDuration(profile string, duration time.Duration) {
	m.scanDuration.WithLabelValues(profile).Observe(duration.Seconds())
}

// IncrementScanErrors increments the scan error counter.
func (m *Registry) IncrementScanErrors(errorType string) {
	m.scanErrors.WithLabelValues(errorType).Inc()
}

// SetActiveSessions sets the resident session gauge.
func (m *Registry) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// AddStreamClient adjusts the connected subscriber gauge for a transport.
func (m *Registry) AddStreamClient(transport string, delta int) {
	m.streamClients.WithLabelValues(transport).Add(float64(delta))
}

// IncrementEventsEmitted increments the emitted event counter for a kind.
func (m *Registry) IncrementEventsEmitted(kind string) {
	m.eventsEmitted.WithLabelValues(kind).Inc()
}

// IncrementSessionsReaped increments the reaper eviction counter.
func (m *Registry) IncrementSessionsReaped(count int) {
	m.sessionsReaped.Add(float64(count))
}

// IncrementLogLinesDropped increments the ring-buffer eviction counter.
func (m *Registry) IncrementLogLinesDropped() {
	m.logLinesDropped.Inc()
}

// IncrementHTTPRequests increments the HTTP request counter.
func (m *Registry) IncrementHTTPRequests(method, status string) {
	m.httpRequests.WithLabelValues(method, status).Inc()
}

// RecordHTTPDuration records an HTTP request duration.
func (m *Registry) RecordHTTPDuration(method string, duration time.Duration) {
	m.httpDuration.WithLabelValues(method).Observe(duration.Seconds())
}
