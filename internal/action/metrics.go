package action

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopagent",
		Name:      "action_outcomes_total",
		Help:      "Action outcomes by action and error kind (OK on success).",
	}, []string{"action", "kind"})
	metricDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shopagent",
		Name:      "action_duration_seconds",
		Help:      "Wall-clock time of an action including evidence capture.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	}, []string{"action"})
)
