// Package observability exposes Prometheus instrumentation for the message
// engine. Collectors are registered once at init and are safe for concurrent
// use. Label sets deliberately exclude tenant and session identifiers to
// keep cardinality bounded; per-tenant accounting lives in the engine_runs
// table, not in metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// engineRuns counts pipeline invocations by terminal status and intent.
	engineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_runs_total",
			Help: "Total number of engine pipeline runs.",
		},
		[]string{"status", "intent"},
	)

	// engineRunDuration records end-to-end pipeline latency by status.
	engineRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_run_duration_seconds",
			Help:    "End-to-end duration of engine pipeline runs in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// rateLimited counts inbound messages rejected by the per-tenant limiter.
	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_rate_limited_total",
			Help: "Total number of messages rejected by the rate limiter.",
		},
	)

	// handoffs counts runs that ended in a human handoff, by reason tag.
	handoffs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_handoffs_total",
			Help: "Total number of runs that escalated to a human.",
		},
		[]string{"reason"},
	)

	// llmCost accumulates model spend in USD millionths by model.
	llmCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cost_micros_total",
			Help: "Cumulative LLM spend in USD millionths.",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(engineRuns, engineRunDuration, rateLimited, handoffs, llmCost)
}

// ObserveRun records one completed pipeline run.
func ObserveRun(status, intent string, d time.Duration) {
	engineRuns.WithLabelValues(status, intent).Inc()
	engineRunDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveRateLimited records one rejected message.
func ObserveRateLimited() { rateLimited.Inc() }

// ObserveHandoff records one escalation with its reason tag.
func ObserveHandoff(reason string) { handoffs.WithLabelValues(reason).Inc() }

// ObserveLLMCost adds model spend to the running total.
func ObserveLLMCost(model string, micros int64) {
	if micros <= 0 {
		return
	}
	llmCost.WithLabelValues(model).Add(float64(micros))
}
