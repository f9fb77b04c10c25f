package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopagent",
		Name:      "tasks_processed_total",
		Help:      "Tasks driven to a terminal status, by status.",
	}, []string{"status"})
	metricCycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shopagent",
		Name:      "worker_cycle_errors_total",
		Help:      "Worker cycles that failed outside action execution.",
	})
)
