package janitor

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_janitor_runs_total",
			Help: "Total number of janitor runs by status.",
		},
		[]string{"status"},
	)
	uploadsAbortedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_janitor_uploads_aborted_total",
			Help: "Total number of stale multipart uploads aborted.",
		},
	)
	resultsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_janitor_results_expired_total",
			Help: "Total number of query jobs whose results were expired.",
		},
	)
	objectsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_janitor_objects_deleted_total",
			Help: "Total number of result objects deleted.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		runsTotal,
		uploadsAbortedTotal,
		resultsExpiredTotal,
		objectsDeletedTotal,
	)
}
