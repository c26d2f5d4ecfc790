package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	TenantsProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenants_provisioned_total",
			Help: "Total number of tenant provisioning runs by outcome",
		},
		[]string{"status"},
	)
	ProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenant_provisioning_duration_seconds",
			Help:    "Duration of tenant provisioning in seconds",
			Buckets: prometheus.LinearBuckets(0, 1, 10), // 0 to 10 seconds
		},
	)
	RollbackFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_rollback_failures_total",
			Help: "Total number of compensating actions that themselves failed",
		},
	)
)

func InitMetrics() {
	for _, c := range []prometheus.Collector{TenantsProvisioned, ProvisioningDuration, RollbackFailures} {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msg("Failed to register metric")
		}
	}
}
