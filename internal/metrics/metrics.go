package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Generate metrics
	GenerateTotal    *prometheus.CounterVec
	GenerateDuration prometheus.Histogram
	RunPolls         prometheus.Histogram
	RunStatusTotal   *prometheus.CounterVec

	// Session metrics
	ThreadsTotal      *prometheus.CounterVec
	HandleResetsTotal prometheus.Counter
	RejectedSubmits   prometheus.Counter

	// Queue metrics
	QueueDepth *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	AvatarTokensTotal   *prometheus.CounterVec
	ActiveWSConnections prometheus.Gauge
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		GenerateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joe_generate_total",
				Help: "Total number of response generations by outcome",
			},
			[]string{"outcome"},
		),
		GenerateDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "joe_generate_duration_seconds",
				Help:    "Duration of response generations in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
		),
		RunPolls: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "joe_run_polls",
				Help:    "Number of status polls per run",
				Buckets: prometheus.LinearBuckets(1, 2, 10),
			},
		),
		RunStatusTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joe_run_terminal_status_total",
				Help: "Total number of runs by terminal status",
			},
			[]string{"status"},
		),

		ThreadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joe_threads_total",
				Help: "Total number of remote threads resolved by source",
			},
			[]string{"source"},
		),
		HandleResetsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "joe_session_handle_resets_total",
				Help: "Total number of session handles discarded after an error",
			},
		),
		RejectedSubmits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "joe_rejected_submits_total",
				Help: "Total number of submissions rejected while busy",
			},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "joe_queue_depth",
				Help: "Current number of queued tasks by lane",
			},
			[]string{"lane"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joe_http_requests_total",
				Help: "Total number of HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		AvatarTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joe_avatar_token_requests_total",
				Help: "Total number of avatar token exchanges by status",
			},
			[]string{"status"},
		),
		ActiveWSConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "joe_ws_connections_active",
				Help: "Number of open chat WebSocket connections",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.GenerateTotal)
	m.registry.MustRegister(m.GenerateDuration)
	m.registry.MustRegister(m.RunPolls)
	m.registry.MustRegister(m.RunStatusTotal)

	m.registry.MustRegister(m.ThreadsTotal)
	m.registry.MustRegister(m.HandleResetsTotal)
	m.registry.MustRegister(m.RejectedSubmits)

	m.registry.MustRegister(m.QueueDepth)

	m.registry.MustRegister(m.HTTPRequestsTotal)
	m.registry.MustRegister(m.AvatarTokensTotal)
	m.registry.MustRegister(m.ActiveWSConnections)
}

// RecordGenerate records the outcome and duration of one generation.
func (m *Metrics) RecordGenerate(outcome string, d time.Duration, polls int) {
	if m == nil {
		return
	}
	m.GenerateTotal.WithLabelValues(outcome).Inc()
	m.GenerateDuration.Observe(d.Seconds())
	if polls > 0 {
		m.RunPolls.Observe(float64(polls))
	}
}

// RecordRunStatus counts a run that reached a terminal status.
func (m *Metrics) RecordRunStatus(status string) {
	if m == nil {
		return
	}
	m.RunStatusTotal.WithLabelValues(status).Inc()
}

// RecordThread counts a resolved thread. source is created, resumed or fallback.
func (m *Metrics) RecordThread(source string) {
	if m == nil {
		return
	}
	m.ThreadsTotal.WithLabelValues(source).Inc()
}

// RecordHandleReset counts a discarded session handle.
func (m *Metrics) RecordHandleReset() {
	if m == nil {
		return
	}
	m.HandleResetsTotal.Inc()
}

// RecordRejectedSubmit counts a submission rejected while another was in flight.
func (m *Metrics) RecordRejectedSubmit() {
	if m == nil {
		return
	}
	m.RejectedSubmits.Inc()
}

// SetQueueDepth sets the queue depth for a lane.
func (m *Metrics) SetQueueDepth(lane string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(lane).Set(float64(depth))
}

// RecordHTTPRequest counts an HTTP request.
func (m *Metrics) RecordHTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(status)).Inc()
}

// RecordAvatarToken counts an avatar token exchange.
func (m *Metrics) RecordAvatarToken(status string) {
	if m == nil {
		return
	}
	m.AvatarTokensTotal.WithLabelValues(status).Inc()
}

// AddWSConnections adjusts the open WebSocket connection gauge.
func (m *Metrics) AddWSConnections(delta int) {
	if m == nil {
		return
	}
	m.ActiveWSConnections.Add(float64(delta))
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
