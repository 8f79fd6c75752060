package executor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/foundry/internal/model"
)

// Metric label values for task status.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusTimeout   = "timeout"
)

var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_tasks_total",
			Help: "Total number of tasks executed by mode and status.",
		},
		[]string{"mode", "status"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foundry_task_duration_seconds",
			Help:    "Task execution duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"mode"},
	)

	tasksInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foundry_tasks_inflight",
			Help: "Number of tasks currently running on a backend.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(tasksInflight)

	for _, mode := range []Mode{ModeSequential, ModeParallel} {
		tasksTotal.WithLabelValues(string(mode), statusSucceeded)
		tasksTotal.WithLabelValues(string(mode), statusFailed)
		tasksTotal.WithLabelValues(string(mode), statusTimeout)
		taskDuration.WithLabelValues(string(mode))
	}
}

func observe(mode Mode, res model.TaskResult) {
	status := statusSucceeded
	switch {
	case res.ExitCode == model.ExitTimeout:
		status = statusTimeout
	case !res.Success():
		status = statusFailed
	}
	tasksTotal.WithLabelValues(string(mode), status).Inc()
	taskDuration.WithLabelValues(string(mode)).Observe(res.Duration.Seconds())
}
