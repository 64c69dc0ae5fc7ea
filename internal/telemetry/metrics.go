package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_enqueued_total",
		Help: "Jobs enqueued by kind",
	}, []string{"kind"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_completed_total",
		Help: "Jobs completed successfully by kind",
	}, []string{"kind"})
	JobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_retried_total",
		Help: "Job attempts that failed and were rescheduled",
	}, []string{"kind"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_failed_total",
		Help: "Jobs that exhausted their retry budget",
	}, []string{"kind"})
	JobsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_jobs_discarded_total",
		Help: "Jobs acked without processing (unknown kind)",
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Jobs waiting to be processed",
	})
	ActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_active_jobs",
		Help: "Jobs currently being processed",
	})
	HandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_handler_duration_seconds",
		Help:    "Handler execution time by kind",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			JobsDiscarded,
			QueueDepth,
			ActiveJobs,
			HandlerDuration,
		)
	})
	return promhttp.Handler()
}
