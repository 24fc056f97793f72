package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servon",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"service"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servon",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stop requests (graceful or kill).",
		}, []string{"service"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servon",
			Subsystem: "service",
			Name:      "spawn_failures_total",
			Help:      "Number of starts that failed before the process launched.",
		}, []string{"service"},
	)
	capturedLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servon",
			Subsystem: "service",
			Name:      "captured_lines_total",
			Help:      "Output lines captured from managed processes.",
		}, []string{"service", "source"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servon",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of run-state transitions.",
		}, []string{"service", "from", "to"},
	)
	runningServices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "servon",
			Subsystem: "service",
			Name:      "running",
			Help:      "Currently running services per workspace.",
		}, []string{"workspace"},
	)
	logWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "servon",
			Subsystem: "logstore",
			Name:      "write_duration_seconds",
			Help:      "Duration of batched log writes.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	purgedLogs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "servon",
			Subsystem: "logstore",
			Name:      "purged_total",
			Help:      "Log entries removed by retention sweeps.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, spawnFailures, capturedLines, stateTransitions, runningServices, logWriteDuration, purgedLogs}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(serviceID string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(serviceID).Inc()
	}
}

func IncStop(serviceID string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(serviceID).Inc()
	}
}

func IncSpawnFailure(serviceID string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(serviceID).Inc()
	}
}

func AddCapturedLines(serviceID, source string, n int) {
	if regOK.Load() && n > 0 {
		capturedLines.WithLabelValues(serviceID, source).Add(float64(n))
	}
}

func RecordStateTransition(serviceID, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(serviceID, from, to).Inc()
	}
}

func SetRunning(workspaceID string, n int) {
	if regOK.Load() {
		runningServices.WithLabelValues(workspaceID).Set(float64(n))
	}
}

func ObserveLogWrite(seconds float64) {
	if regOK.Load() {
		logWriteDuration.Observe(seconds)
	}
}

func AddPurgedLogs(n int64) {
	if regOK.Load() && n > 0 {
		purgedLogs.Add(float64(n))
	}
}
