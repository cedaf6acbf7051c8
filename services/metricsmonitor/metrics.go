package metricsmonitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusMetricsSamples        prometheus.Counter
	prometheusMetricsSkipped        prometheus.Counter
	prometheusMetricsEvicted        prometheus.Counter
	prometheusMetricsSampleErrors   prometheus.Counter
	prometheusMetricsSampleDuration prometheus.Histogram
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusMetricsSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "metricsmonitor",
			Name:      "samples",
			Help:      "Number of node metric samples ingested",
		},
	)

	prometheusMetricsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "metricsmonitor",
			Name:      "samples_skipped",
			Help:      "Number of samples skipped because their timestamp did not advance",
		},
	)

	prometheusMetricsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "metricsmonitor",
			Name:      "points_evicted",
			Help:      "Number of points evicted from the ring buffers",
		},
	)

	prometheusMetricsSampleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "metricsmonitor",
			Name:      "sample_errors",
			Help:      "Number of failed GetMetrics calls",
		},
	)

	prometheusMetricsSampleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "nodekeeper",
			Subsystem: "metricsmonitor",
			Name:      "sample_duration_seconds",
			Help:      "Duration of GetMetrics calls",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)
}
