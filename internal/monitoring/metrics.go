package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the rendering engine.
type Metrics struct {
	// Render metrics
	RendersTotal   *prometheus.CounterVec // outcome: interactive|fallback|error
	RenderDuration prometheus.Histogram
	FramesApplied  prometheus.Counter

	// Protocol metrics
	MessagesSent     *prometheus.CounterVec // kind
	MessagesReceived *prometheus.CounterVec // kind
	MessageBytes     *prometheus.CounterVec // direction
	TransportErrors  prometheus.Counter
	LastHeartbeat    prometheus.Gauge

	// Sandbox metrics
	SessionsActive   prometheus.Gauge
	ModuleLoads      *prometheus.CounterVec // result: ok|denied|error
	FunctionCalls    *prometheus.CounterVec // result: ok|error|timeout
	FunctionDuration prometheus.Histogram

	// Sanitizer metrics
	SanitizerStrips *prometheus.CounterVec // kind: element|attribute|scheme|css|svg

	startTime time.Time
}

// NewMetrics creates and registers all engine metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RendersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_renders_total",
				Help: "Total document renders by outcome",
			},
			[]string{"outcome"},
		),
		RenderDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "engine_render_duration_seconds",
				Help:    "Document render duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		FramesApplied: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_frames_applied_total",
				Help: "Total render update frames applied to the boundary",
			},
		),

		MessagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_protocol_messages_sent_total",
				Help: "Protocol messages sent by kind",
			},
			[]string{"kind"},
		),
		MessagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_protocol_messages_received_total",
				Help: "Protocol messages received by kind",
			},
			[]string{"kind"},
		),
		MessageBytes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_protocol_bytes_total",
				Help: "Protocol bytes by direction",
			},
			[]string{"direction"},
		),
		TransportErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_transport_errors_total",
				Help: "Total transport errors",
			},
		),
		LastHeartbeat: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_transport_last_heartbeat_timestamp",
				Help: "Unix timestamp of the last received heartbeat",
			},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_sandbox_sessions_active",
				Help: "Number of active sandbox sessions",
			},
		),
		ModuleLoads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_sandbox_module_loads_total",
				Help: "Module load attempts by result",
			},
			[]string{"result"},
		),
		FunctionCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_sandbox_function_calls_total",
				Help: "Sandbox function calls by result",
			},
			[]string{"result"},
		),
		FunctionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "engine_sandbox_function_duration_seconds",
				Help:    "Sandbox function call duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
		),

		SanitizerStrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_sanitizer_strips_total",
				Help: "Content neutered by the sanitizers, by kind",
			},
			[]string{"kind"},
		),
	}
}

// Uptime returns time since metrics creation.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
