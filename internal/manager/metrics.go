package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	initStateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sketchd",
		Subsystem: "pipeline",
		Name:      "init_state",
		Help:      "Current initialization state as an ordinal (0=not_initialized ... 7=ready, -1 never exported).",
	})
	generationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sketchd",
		Subsystem: "pipeline",
		Name:      "generations_total",
		Help:      "Completed generation requests, including failed ones.",
	})
	generationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sketchd",
		Subsystem: "pipeline",
		Name:      "generation_duration_seconds",
		Help:      "Wall-clock duration of generation requests.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	busyRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sketchd",
		Subsystem: "pipeline",
		Name:      "busy_rejections_total",
		Help:      "Generation requests rejected because another was in flight.",
	})
)

func init() {
	prometheus.MustRegister(initStateGauge, generationsTotal, generationSeconds, busyRejections)
}
