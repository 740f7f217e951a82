// Package metrics registers the gateway's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the gateway and worker report into.
type Metrics struct {
	// Session lifecycle
	ActiveSessions     prometheus.Gauge
	SessionsCreated    *prometheus.CounterVec // kind
	SessionsTerminated *prometheus.CounterVec // kind, reason
	SessionDuration    prometheus.Histogram

	// Relay traffic
	RelayedFrames  *prometheus.CounterVec // direction
	AssembledTurns *prometheus.CounterVec // role

	// Authorization
	AttachDenials *prometheus.CounterVec // reason

	// Upstream connection
	UpstreamReconnects prometheus.Counter

	// Analysis pipeline
	JobsEnqueued  prometheus.Counter
	JobsConsumed  prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsExhausted prometheus.Counter

	// HTTP API
	HTTPRequests        *prometheus.CounterVec // method, path, status
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers all collectors on reg. Tests pass a fresh registry so
// parallel packages do not collide on metric names.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_active_sessions",
			Help: "Current number of attached live sessions",
		}),
		SessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_sessions_created_total",
			Help: "Total interview sessions created",
		}, []string{"kind"}),
		SessionsTerminated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_sessions_terminated_total",
			Help: "Total live sessions terminated",
		}, []string{"kind", "reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_session_duration_seconds",
			Help:    "Wall-clock duration of live sessions",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		RelayedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_relayed_frames_total",
			Help: "Audio frames relayed between client and upstream",
		}, []string{"direction"}),
		AssembledTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_assembled_turns_total",
			Help: "Transcript turns assembled from upstream fragments",
		}, []string{"role"}),
		AttachDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_attach_denials_total",
			Help: "Live attach attempts rejected by the authorization gate",
		}, []string{"reason"}),
		UpstreamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_upstream_reconnects_total",
			Help: "Upstream connections re-established with session resumption",
		}),
		JobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_analysis_jobs_enqueued_total",
			Help: "Analysis jobs pushed to the queue",
		}),
		JobsConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_analysis_jobs_consumed_total",
			Help: "Analysis jobs dequeued by workers",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_analysis_jobs_failed_total",
			Help: "Analysis job attempts that ended in error",
		}),
		JobsExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_analysis_jobs_exhausted_total",
			Help: "Analysis jobs abandoned after the final retry",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicebridge_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// NewDefault registers on the global registry used by promhttp.Handler.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
