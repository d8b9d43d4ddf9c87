package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total messages delivered to the provider",
		},
	)

	MessageFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "message_failures_total",
			Help: "Total failed message deliveries",
		},
	)

	MessageRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "message_retries_total",
			Help: "Total retried delivery attempts",
		},
	)

	JobsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total jobs finished in completed status",
		},
	)

	JobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total jobs finished in failed status",
		},
	)

	StuckJobsReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stuck_jobs_reclaimed_total",
			Help: "Total jobs whose processing lock was reclaimed after timeout",
		},
	)

	PointsRefunded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "points_refunded_total",
			Help: "Total billing points credited back to users",
		},
	)

	ActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_jobs",
			Help: "Jobs currently being processed by this instance",
		},
	)

	ProviderResponseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_response_seconds",
			Help:    "Messaging provider call latency",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Init() {
	prometheus.MustRegister(
		MessagesSent,
		MessageFailures,
		MessageRetries,
		JobsCompleted,
		JobsFailed,
		StuckJobsReclaimed,
		PointsRefunded,
		ActiveJobs,
		ProviderResponseTime,
	)
}
