package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shopagent",
		Name:      "sessions_provisioned_total",
		Help:      "Tenant sessions started and connected.",
	})
	metricProvisionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopagent",
		Name:      "session_provision_failures_total",
		Help:      "Failed session acquisitions by stage.",
	}, []string{"reason"})
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shopagent",
		Name:      "sessions_active",
		Help:      "Live sessions held by the pool.",
	})
)
