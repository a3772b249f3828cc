// Package metrics defines the Prometheus instrumentation for the
// reconciliation core: reconcile/drift/scheduler counters and latency
// histograms, registered against the default Prometheus registry so
// cmd/reconcilerd can serve them over /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ReconcileTotal counts reconcile attempts by outcome.
	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_reconcile_total",
			Help: "Total number of reconcile attempts, by outcome.",
		},
		[]string{"outcome"}, // outcome: success/error
	)

	// ReconcileDuration records end-to-end reconcile latency.
	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_reconcile_duration_seconds",
			Help:    "Latency of a full reconcile pass.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// DriftFindingsTotal counts drift findings by severity.
	DriftFindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_drift_findings_total",
			Help: "Total number of drift findings emitted, by severity.",
		},
		[]string{"severity"}, // severity: info/warning/critical
	)

	// InstanceHealth is a gauge snapshot of each instance's health as of its
	// last completed drift check against a reachable agent, one
	// time series per (instanceId, health) pair pinned to 1 for the
	// currently-held value and absent otherwise.
	InstanceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconciler_instance_health",
			Help: "Current health of a managed instance (1=current value).",
		},
		[]string{"instanceId", "health"},
	)

	// SchedulerTaskDuration records how long each periodic scheduler task
	// took to run to completion.
	SchedulerTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_scheduler_task_duration_seconds",
			Help:    "Latency of a single scheduler task tick.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// SchedulerTaskFailuresTotal counts scheduler task ticks that returned
	// an error.
	SchedulerTaskFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_scheduler_task_failures_total",
			Help: "Total number of scheduler task ticks that failed.",
		},
		[]string{"task"},
	)

	// GatewayPoolSize gauges the number of pooled agent WebSocket clients.
	GatewayPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_gateway_pool_size",
			Help: "Number of agent WebSocket clients currently held open by the pool.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ReconcileTotal,
		ReconcileDuration,
		DriftFindingsTotal,
		InstanceHealth,
		SchedulerTaskDuration,
		SchedulerTaskFailuresTotal,
		GatewayPoolSize,
	)
}

// ObserveReconcile records a completed reconcile attempt's outcome and
// latency in one call, the way callers in internal/reconcile want to use
// it from a single defer.
func ObserveReconcile(success bool, elapsedSeconds float64) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	ReconcileTotal.WithLabelValues(outcome).Inc()
	ReconcileDuration.WithLabelValues(outcome).Observe(elapsedSeconds)
}
