// Package metrics defines the Prometheus instruments shared by the
// automation components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portal_pilot"

type Metrics struct {
	// Element parser: latency and per-attempt outcome.
	ParseDuration *prometheus.HistogramVec
	ParseAttempts *prometheus.CounterVec

	// Circuit breaker around the vision service (0=closed, 1=half-open, 2=open).
	BreakerState *prometheus.GaugeVec

	// Dispatcher outcomes by action kind.
	Actions *prometheus.CounterVec

	// Control loop.
	LoopSteps prometheus.Counter
	Runs      *prometheus.CounterVec

	// Robust wait.
	Waits     *prometheus.CounterVec
	Obstacles *prometheus.CounterVec

	// Execution queue.
	QueueDepth prometheus.Gauge
	Jobs       *prometheus.CounterVec

	// Supervised background tasks.
	TaskRestarts *prometheus.CounterVec
	IdleScreen   prometheus.Gauge
}

// New registers all instruments on reg. A nil reg gets a private registry,
// which keeps tests and one-shot commands independent of the global one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		ParseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_duration_seconds",
			Help:      "Latency of element parses including retries.",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"outcome"}),

		ParseAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_attempts_total",
			Help:      "Vision service calls by result.",
		}, []string{"result"}), // ok, timeout, rate_limited, error

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Dispatched actions by kind and outcome.",
		}, []string{"kind", "outcome"}),

		LoopSteps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_steps_total",
			Help:      "Control loop steps recorded.",
		}),

		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished executions by terminal status.",
		}, []string{"status"}),

		Waits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waits_total",
			Help:      "Robust wait outcomes.",
		}, []string{"outcome"}), // found, timeout, stopped, gone

		Obstacles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "obstacles_handled_total",
			Help:      "Obstacle handler invocations by obstacle name.",
		}, []string{"obstacle"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Jobs waiting in the execution queue.",
		}),

		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Processed jobs by outcome.",
		}, []string{"outcome"}),

		TaskRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_restarts_total",
			Help:      "Restarts of supervised background tasks.",
		}, []string{"task"}),

		IdleScreen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle_screen_ok",
			Help:      "1 when the last idle-screen check found the expected screen.",
		}),
	}
}
