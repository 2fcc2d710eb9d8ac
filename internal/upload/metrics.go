package upload

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_upload_jobs_total",
			Help: "Total number of multipart upload jobs by strategy and status.",
		},
		[]string{"strategy", "status"},
	)
	partsUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_upload_parts_total",
			Help: "Total number of multipart parts uploaded by strategy.",
		},
		[]string{"strategy"},
	)
	bytesUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_upload_bytes_total",
			Help: "Total bytes uploaded as multipart parts by strategy.",
		},
		[]string{"strategy"},
	)
	inflightParts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lakequery_upload_inflight_parts",
			Help: "Current number of part uploads in flight.",
		},
	)
	uploadDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakequery_upload_duration_seconds",
			Help:    "Duration of completed multipart uploads in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		jobsTotal,
		partsUploadedTotal,
		bytesUploadedTotal,
		inflightParts,
		uploadDurationSeconds,
	)
}
