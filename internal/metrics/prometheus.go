package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts sandbox executions by language and outcome.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gauntlet_executions_total",
			Help: "Total number of code executions",
		},
		[]string{"language", "outcome"},
	)

	// ExecutionDuration tracks the wall-clock duration of executions in seconds.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gauntlet_execution_duration_seconds",
			Help:    "Duration of code executions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"language"},
	)

	// WorkersActive tracks the number of workers currently running a job.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gauntlet_workers_active",
			Help: "Number of worker goroutines currently running a job",
		},
	)

	// SandboxFailures counts infrastructure failures (spawn errors, panics), not user code errors.
	SandboxFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gauntlet_sandbox_failures_total",
			Help: "Total number of sandbox infrastructure failures",
		},
	)

	SandboxTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gauntlet_sandbox_timeouts_total",
			Help: "Total number of executions killed at the wall-clock limit",
		},
	)

	// SandboxReaped counts instances still alive after their process reported exit.
	SandboxReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gauntlet_sandbox_reaped_total",
			Help: "Total number of lingering sandbox instances force-terminated after exit",
		},
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gauntlet_jobs_enqueued_total",
			Help: "Total number of jobs accepted by the queue",
		},
		[]string{"language"},
	)

	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gauntlet_retries_scheduled_total",
			Help: "Total number of failed jobs rescheduled for retry",
		},
	)

	// JobsPurged counts records removed by queue maintenance, by reason (expired, retention).
	JobsPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gauntlet_jobs_purged_total",
			Help: "Total number of job records expired or purged by maintenance",
		},
		[]string{"reason"},
	)

	TestVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gauntlet_test_verdicts_total",
			Help: "Total number of evaluated test cases by verdict",
		},
		[]string{"language", "verdict"},
	)
)
