// Package metrics exposes FastLoop's runtime counters as Prometheus
// collectors, grounded in the teacher pack's observability.metrics
// package: package-level collectors built with promauto, served through
// promhttp.Handler() at the dispatcher's /metrics route.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus exposition handler for the default
// registry, mounted at the dispatcher's /metrics route when
// metrics.enabled is set (spec §6 expansion).
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	// ClaimWaitSeconds tracks how long a manager waited to acquire a
	// loop's claim before giving up or succeeding.
	ClaimWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fastloop_claim_wait_seconds",
		Help:    "Time spent waiting to acquire a loop claim",
		Buckets: prometheus.DefBuckets,
	})

	// ClaimFailuresTotal counts claim acquisition attempts that timed out.
	ClaimFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastloop_claim_failures_total",
		Help: "Claim acquisition attempts that timed out",
	}, []string{"loop_name"})

	// ActiveClaims tracks the number of loops currently claimed by this
	// process.
	ActiveClaims = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fastloop_active_claims",
		Help: "Number of loops currently claimed by this process",
	})

	// HandlerDurationSeconds tracks wall-clock time spent inside a loop
	// handler invocation, from handler entry to its return.
	HandlerDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fastloop_handler_duration_seconds",
		Help:    "Duration of a single loop handler invocation",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop_name"})

	// HandlerExceptionsTotal counts handler invocations that ended in a
	// panic or unhandled error, transitioning the loop to STOPPED.
	HandlerExceptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastloop_handler_exceptions_total",
		Help: "Handler invocations that ended in an unhandled error",
	}, []string{"loop_name"})

	// QueueDepth tracks the pending event count for a given (loop, event
	// type, sender) queue the last time it was observed.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fastloop_queue_depth",
		Help: "Pending events waiting in a loop's event queue",
	}, []string{"loop_name", "event_type", "sender"})

	// EventsEmittedTotal counts SERVER events emitted by handlers.
	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastloop_events_emitted_total",
		Help: "Total SERVER events emitted by loop handlers",
	}, []string{"loop_name", "event_type", "sender"})

	// LoopsIdleTotal counts transitions into IDLE performed by the
	// monitor's sweep.
	LoopsIdleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastloop_loops_idle_total",
		Help: "Loops transitioned to IDLE by the idle monitor",
	}, []string{"loop_name"})

	// ExportFailuresTotal counts best-effort external event export
	// attempts that failed. The backend label is whatever the caller
	// passes; LoopContext.Emit records "configured".
	ExportFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastloop_export_failures_total",
		Help: "Failed attempts to mirror a SERVER event to an external bus",
	}, []string{"backend"})
)
