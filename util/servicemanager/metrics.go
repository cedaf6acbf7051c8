package servicemanager

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusServices          prometheus.Gauge
	prometheusBroadcastDuration *prometheus.HistogramVec
	prometheusBroadcastErrors   *prometheus.CounterVec
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusServices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodekeeper",
			Subsystem: "servicemanager",
			Name:      "services",
			Help:      "Number of registered services",
		},
	)

	prometheusBroadcastDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodekeeper",
			Subsystem: "servicemanager",
			Name:      "broadcast_duration_seconds",
			Help:      "Duration of RPC broadcasts to all services",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"operation"},
	)

	prometheusBroadcastErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "servicemanager",
			Name:      "broadcast_errors",
			Help:      "Number of RPC broadcasts aborted by a service error",
		},
		[]string{"operation", "service"},
	)
}
