package acquire

import "github.com/prometheus/client_golang/prometheus"

var downloadedBytes = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sketchd",
		Subsystem: "acquire",
		Name:      "downloaded_bytes_total",
		Help:      "Total bytes downloaded for model acquisition",
	},
)

func init() {
	prometheus.MustRegister(downloadedBytes)
}
