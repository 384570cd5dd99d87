package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/shutdown-sequencer/internal/lifecycle"
)

var (
	shutdownSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutdown_sessions_total",
			Help: "Total number of graceful shutdown sessions labeled by trigger reason and outcome",
		},
		[]string{"reason", "outcome"},
	)
	shutdownSessionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shutdown_session_duration_seconds",
			Help:    "Duration of graceful shutdown sessions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)
	resourceCloseDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shutdown_resource_close_duration_seconds",
			Help:    "Duration of individual resource closes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource", "status"},
	)
	crashesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutdown_crashes_total",
			Help: "Total number of crash-path exits split by reason",
		},
		[]string{"reason"},
	)
	shutdownState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdown_state",
			Help: "Current shutdown state (0 idle, 1 draining, 2 closing, 3 terminal)",
		},
	)
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of open WebSocket connections",
		},
	)
)

// ShutdownRecorder exports coordinator progress to Prometheus.
type ShutdownRecorder struct{}

var _ lifecycle.Recorder = ShutdownRecorder{}

// StateChanged updates the state gauge.
func (ShutdownRecorder) StateChanged(state lifecycle.State) {
	shutdownState.Set(float64(state))
}

// ResourceClosed records the close duration for resource.
func (ShutdownRecorder) ResourceClosed(resource string, status lifecycle.ResourceStatus, elapsed time.Duration) {
	if resource == "" {
		resource = "unknown"
	}

	resourceCloseDurationSeconds.WithLabelValues(resource, string(status)).Observe(elapsed.Seconds())
}

// SessionFinished counts the session and records its duration.
func (ShutdownRecorder) SessionFinished(reason lifecycle.Reason, outcome lifecycle.Outcome, elapsed time.Duration) {
	shutdownSessionsTotal.WithLabelValues(labelOrUnknown(string(reason)), labelOrUnknown(string(outcome))).Inc()
	shutdownSessionDurationSeconds.WithLabelValues(labelOrUnknown(string(outcome))).Observe(elapsed.Seconds())
}

// Crashed counts a crash-path exit.
func (ShutdownRecorder) Crashed(reason lifecycle.Reason) {
	crashesTotal.WithLabelValues(labelOrUnknown(string(reason))).Inc()
}

// SetWebSocketConnections updates the gauge for open WebSocket connections.
func SetWebSocketConnections(count int) {
	websocketConnections.Set(float64(count))
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
