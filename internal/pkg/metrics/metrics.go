// Package metrics holds the Prometheus collectors exported on /metrics by
// the server and worker binaries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_jobs_enqueued_total",
			Help: "Queue jobs inserted by enqueue runs",
		},
		[]string{"queue"},
	)

	EnqueueDuplicates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_enqueue_duplicates_total",
			Help: "Candidates dropped at enqueue because the pair already existed",
		},
		[]string{"queue"},
	)

	JobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_job_outcomes_total",
			Help: "Terminal and retry outcomes applied by the dispatcher",
		},
		[]string{"queue", "outcome"}, // outcome: sent, skipped, retry, rate_limited, failed
	)

	SkipReasons = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_skip_reasons_total",
			Help: "Skipped jobs by reason code",
		},
		[]string{"queue", "reason"},
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcast_cycle_duration_seconds",
			Help:    "Wall time of one dispatcher cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"queue"},
	)

	SendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcast_send_latency_seconds",
			Help:    "Latency of a single provider send call",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"kind"}, // kind: text, media
	)

	RateLimitPauses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_rate_limit_pauses_total",
			Help: "Times a worker loop paused after a provider rate-limit signal",
		},
		[]string{"queue"},
	)

	StuckJobsReset = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_stuck_jobs_reset_total",
			Help: "Processing jobs returned to pending by stuck-job recovery",
		},
		[]string{"queue"},
	)

	LockContended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_lock_contended_total",
			Help: "Cycles skipped because another dispatcher held the queue lock",
		},
		[]string{"queue"},
	)
)

// RecordEnqueue adds one enqueue run's counts.
func RecordEnqueue(queue string, inserted, duplicates int) {
	JobsEnqueued.WithLabelValues(queue).Add(float64(inserted))
	EnqueueDuplicates.WithLabelValues(queue).Add(float64(duplicates))
}

// RecordOutcome counts one applied outcome.
func RecordOutcome(queue, outcome string) {
	JobOutcomes.WithLabelValues(queue, outcome).Inc()
}

// RecordSkip counts one skipped job by reason.
func RecordSkip(queue, reason string) {
	SkipReasons.WithLabelValues(queue, reason).Inc()
	JobOutcomes.WithLabelValues(queue, "skipped").Inc()
}

// RecordCycle observes the duration of a dispatcher cycle.
func RecordCycle(queue string, d time.Duration) {
	CycleDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// RecordSend observes one provider call.
func RecordSend(kind string, d time.Duration) {
	SendLatency.WithLabelValues(kind).Observe(d.Seconds())
}
