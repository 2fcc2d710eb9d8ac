package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	querySubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_query_submissions_total",
			Help: "Total number of query submissions by outcome.",
		},
		[]string{"outcome"},
	)
	queryRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_query_rejections_total",
			Help: "Total number of rejected query submissions by failure kind and code.",
		},
		[]string{"kind", "code"},
	)
	queryPlanLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lakequery_query_plan_latency_ms",
			Help:    "Latency of validating, resolving and rewriting a submitted query in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
	)
	pendingJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lakequery_jobs_pending",
			Help: "Current number of query jobs waiting for a worker.",
		},
	)
	workerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_worker_jobs_total",
			Help: "Total number of query jobs finished by workers by status and failure kind.",
		},
		[]string{"status", "kind"},
	)
	workerJobDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lakequery_worker_job_duration_seconds",
			Help:    "Duration of query jobs from claim to completion in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
	)
	resultRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_result_rows_total",
			Help: "Total number of result rows materialized by workers.",
		},
	)
	resultBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakequery_result_bytes",
			Help:    "Size of uploaded result objects in bytes by format.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
		},
		[]string{"format"},
	)
)

func init() {
	prometheus.MustRegister(
		querySubmissionsTotal,
		queryRejectionsTotal,
		queryPlanLatencyMs,
		pendingJobs,
		workerJobsTotal,
		workerJobDurationSeconds,
		resultRowsTotal,
		resultBytes,
	)
}

func ObserveQueryAccepted(elapsed time.Duration) {
	querySubmissionsTotal.WithLabelValues("accepted").Inc()
	queryPlanLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveQueryRejected(kind, code string) {
	querySubmissionsTotal.WithLabelValues("rejected").Inc()
	queryRejectionsTotal.WithLabelValues(kind, code).Inc()
}

func SetPendingJobs(count int64) {
	if count < 0 {
		count = 0
	}
	pendingJobs.Set(float64(count))
}

// ObserveWorkerJob records a finished job. kind is empty for successes.
func ObserveWorkerJob(status, kind string, elapsed time.Duration) {
	workerJobsTotal.WithLabelValues(status, kind).Inc()
	workerJobDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveResult(rows int64, parquetBytes, jsonBytes int) {
	if rows > 0 {
		resultRowsTotal.Add(float64(rows))
	}
	resultBytes.WithLabelValues("parquet").Observe(float64(parquetBytes))
	resultBytes.WithLabelValues("json").Observe(float64(jsonBytes))
}
