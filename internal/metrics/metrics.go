// Package metrics exposes Prometheus collectors for the job registry.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsSubmittedTotal         *prometheus.CounterVec
	jobTransitionsTotal        *prometheus.CounterVec
	jobCancellationsTotal      *prometheus.CounterVec
	listingsTotal              *prometheus.CounterVec
	listingDurationSeconds     *prometheus.HistogramVec
	indexSkewTotal             *prometheus.CounterVec
	reconcileActionsTotal      *prometheus.CounterVec
	dispatchTotal              *prometheus.CounterVec
	rateLimitedTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsSubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_jobs_submitted_total",
				Help: "Total number of jobs accepted, labeled by kind.",
			},
			[]string{"kind"},
		)

		jobTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_job_transitions_total",
				Help: "Status transitions requested, labeled by source, target, and result.",
			},
			[]string{"from", "to", "result"},
		)

		jobCancellationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_job_cancellations_total",
				Help: "Cancel requests, labeled by result (applied, duplicate, not_found).",
			},
			[]string{"result"},
		)

		listingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_listings_total",
				Help: "Team listings served, labeled by group and result (complete, partial, error).",
			},
			[]string{"group", "result"},
		)

		listingDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registry_listing_duration_seconds",
				Help:    "Histogram of team listing latencies, labeled by group.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"group"},
		)

		indexSkewTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_index_skew_total",
				Help: "Index entries that did not match a stored record, labeled by group and reason.",
			},
			[]string{"group", "reason"},
		)

		reconcileActionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_reconcile_actions_total",
				Help: "Index repairs performed by reconciliation, labeled by action.",
			},
			[]string{"action"},
		)

		dispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_dispatch_total",
				Help: "Dispatch messages published to the worker pipeline, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_submissions_rate_limited_total",
				Help: "Submissions rejected by the per-team rate limit, labeled by kind.",
			},
			[]string{"kind"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission counts an accepted job.
func ObserveSubmission(kind string) {
	Init()
	jobsSubmittedTotal.WithLabelValues(kind).Inc()
}

// ObserveTransition counts a status change request and whether it applied.
func ObserveTransition(from, to, result string) {
	Init()
	jobTransitionsTotal.WithLabelValues(from, to, result).Inc()
}

// ObserveCancel counts a cancel request.
func ObserveCancel(result string) {
	Init()
	jobCancellationsTotal.WithLabelValues(result).Inc()
}

// ObserveListing records the outcome and latency of a team listing.
func ObserveListing(group, result string, duration time.Duration) {
	Init()
	listingsTotal.WithLabelValues(group, result).Inc()
	listingDurationSeconds.WithLabelValues(group).Observe(duration.Seconds())
}

// ObserveIndexSkew counts an index entry that was filtered out of a listing.
func ObserveIndexSkew(group, reason string) {
	Init()
	indexSkewTotal.WithLabelValues(group, reason).Inc()
}

// ObserveReconcile counts index repairs.
func ObserveReconcile(action string, n int) {
	Init()
	if n > 0 {
		reconcileActionsTotal.WithLabelValues(action).Add(float64(n))
	}
}

// ObserveDispatch counts a publish to the worker pipeline.
func ObserveDispatch(result string) {
	Init()
	dispatchTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimited counts a submission rejected with 429.
func ObserveRateLimited(kind string) {
	Init()
	rateLimitedTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
