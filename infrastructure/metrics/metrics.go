// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-labs/docweave/internal/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Collaboration metrics
	SessionsActive       *prometheus.GaugeVec
	UpdatesAppliedTotal  *prometheus.CounterVec
	BroadcastFanoutTotal *prometheus.CounterVec
	RevisionsTotal       *prometheus.CounterVec
	RevisionDuration     *prometheus.HistogramVec
	SSESubscribersActive *prometheus.GaugeVec

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Collaboration metrics
		SessionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "session_registry_active_sessions",
				Help: "Current number of attached WebSocket sessions per document",
			},
			[]string{"service", "document_id"},
		),
		UpdatesAppliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "document_updates_applied_total",
				Help: "Total number of CRDT updates applied to a document replica",
			},
			[]string{"service", "origin"},
		),
		BroadcastFanoutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_broadcast_fanout_total",
				Help: "Total number of frames fanned out to sessions, by outcome",
			},
			[]string{"service", "outcome"},
		),
		RevisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revision_snapshots_total",
				Help: "Total number of revision snapshots taken, by trigger",
			},
			[]string{"service", "trigger", "status"},
		),
		RevisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "revision_snapshot_duration_seconds",
				Help:    "Revision snapshot duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "trigger"},
		),
		SSESubscribersActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_topic_subscribers",
				Help: "Current number of SSE subscribers per topic",
			},
			[]string{"service", "topic"},
		),

		// Database metrics
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.SessionsActive,
			m.UpdatesAppliedTotal,
			m.BroadcastFanoutTotal,
			m.RevisionsTotal,
			m.RevisionDuration,
			m.SSESubscribersActive,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// SetSessionsActive sets the number of attached sessions for a document.
func (m *Metrics) SetSessionsActive(service, documentID string, count int) {
	m.SessionsActive.WithLabelValues(service, documentID).Set(float64(count))
}

// RecordUpdateApplied records a CRDT update applied to a document replica.
func (m *Metrics) RecordUpdateApplied(service, origin string) {
	m.UpdatesAppliedTotal.WithLabelValues(service, origin).Inc()
}

// RecordBroadcastFanout records a single session delivery outcome
// ("delivered", "coalesced", "dropped_slow_consumer").
func (m *Metrics) RecordBroadcastFanout(service, outcome string) {
	m.BroadcastFanoutTotal.WithLabelValues(service, outcome).Inc()
}

// RecordRevisionSnapshot records a revision engine snapshot attempt.
func (m *Metrics) RecordRevisionSnapshot(service, trigger, status string, duration time.Duration) {
	m.RevisionsTotal.WithLabelValues(service, trigger, status).Inc()
	m.RevisionDuration.WithLabelValues(service, trigger).Observe(duration.Seconds())
}

// SetSSESubscribers sets the number of active SSE subscribers for a topic.
func (m *Metrics) SetSSESubscribers(service, topic string, count int) {
	m.SSESubscribersActive.WithLabelValues(service, topic).Set(float64(count))
}

// RecordDatabaseQuery records a database query
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
