// Package telemetry exposes Prometheus metrics for the crawl subsystems.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_records_total",
			Help: "Records processed by the item pipeline, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Request reissues triggered by the retry middleware, labeled by reason.",
		},
		[]string{"reason"},
	)

	rendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_renders_total",
			Help: "Headless render attempts, labeled by result.",
		},
		[]string{"result"},
	)

	mediaFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_media_fetches_total",
			Help: "Media store fetches, labeled by result (fetched, cached, failed).",
		},
		[]string{"result"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_jobs_total",
			Help: "Crawl job state transitions, labeled by state.",
		},
		[]string{"state"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delay_seconds",
			Help:    "Histogram of rate limiter wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of API request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// ObserveRecord counts one pipeline outcome for a record kind.
func ObserveRecord(kind, outcome string) {
	recordsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRetry counts one reissue.
func ObserveRetry(reason string) {
	retriesTotal.WithLabelValues(reason).Inc()
}

// ObserveRender counts one render attempt.
func ObserveRender(result string) {
	rendersTotal.WithLabelValues(result).Inc()
}

// ObserveMediaFetch counts one media store lookup.
func ObserveMediaFetch(result string) {
	mediaFetchesTotal.WithLabelValues(result).Inc()
}

// ObserveJobState counts one job state transition.
func ObserveJobState(state string) {
	jobsTotal.WithLabelValues(state).Inc()
}

// ObserveRateLimitDelay records how long a dispatch waited on pacing.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, d time.Duration) {
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
