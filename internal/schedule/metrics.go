package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopagent",
		Name:      "scheduled_tasks_enqueued_total",
		Help:      "Tasks enqueued by cron schedules.",
	}, []string{"schedule"})
	metricSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopagent",
		Name:      "schedule_ticks_skipped_total",
		Help:      "Schedule ticks skipped because the previous task was still pending.",
	}, []string{"schedule"})
)
