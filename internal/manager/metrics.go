package manager

import (
	"github.com/prometheus/client_golang/prometheus"

	"danmud/internal/worker"
)

var (
	generationState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "danmud",
			Name:      "generation_state",
			Help:      "Number of worker generations by lifecycle state",
		},
		[]string{"state"},
	)

	reloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "danmud",
			Name:      "reloads_total",
			Help:      "Reload jobs by final status",
		},
		[]string{"status"},
	)

	routeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "danmud",
			Name:      "route_total",
			Help:      "Routed requests by result",
		},
		[]string{"result"},
	)

	routeInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "danmud",
			Name:      "inflight_requests",
			Help:      "Requests currently being handled by a worker",
		},
	)

	workerLogsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "danmud",
			Name:      "worker_logs_total",
			Help:      "Log records emitted by workers",
		},
		[]string{"level"},
	)

	envPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "danmud",
			Name:      "env_pushes_total",
			Help:      "Environment pushes to generations by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(generationState, reloadsTotal, routeTotal, routeInflight, workerLogsTotal, envPushesTotal)
}

func setGenGauge(prev, next GenState) {
	if prev != "" {
		generationState.WithLabelValues(string(prev)).Dec()
	}
	if next == GenTerminated {
		return
	}
	generationState.WithLabelValues(string(next)).Inc()
}

// CountWorkerLog records a worker log event. It is suitable as a
// worker.LogFunc and never blocks.
func CountWorkerLog(ev worker.LogEvent) {
	workerLogsTotal.WithLabelValues(worker.NormalizeLevel(ev.Level)).Inc()
}

// routeResult labels the outcome of one Route call.
func routeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsServiceUnavailable(err):
		return "unavailable"
	case worker.IsTimeout(err):
		return "timeout"
	case worker.IsCommunicationError(err):
		return "communication"
	case worker.IsHandlerError(err):
		return "handler_error"
	default:
		return "canceled"
	}
}
