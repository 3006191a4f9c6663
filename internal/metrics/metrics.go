// Package metrics exposes Prometheus collectors for the places scraper.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	poolBrowsers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scraper_pool_browsers",
			Help: "Number of browsers held by the resource pool, labeled by state.",
		},
		[]string{"state"},
	)

	poolAcquireSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_pool_acquire_seconds",
			Help:    "Histogram of time spent waiting for a browser.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	discoveredItemsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_discovered_items_total",
			Help: "Total number of work items discovered.",
		},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Total number of extracted records, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Total number of orchestration runs, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_jobs_total",
			Help: "Total number of async jobs settled, labeled by status.",
		},
		[]string{"status"},
	)

	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_active_runs",
			Help: "Number of orchestrations currently holding an admission slot.",
		},
	)

	cacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cache_operations_total",
			Help: "Total number of result cache operations, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	admissionRejectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_admission_rejects_total",
			Help: "Total number of runs rejected for lack of capacity.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method", "route"},
	)
)

// Record outcome labels.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeCapped    = "capped"
)

// Result cache outcome labels.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetPoolBrowsers publishes the live and idle browser counts.
func SetPoolBrowsers(live, idle int) {
	poolBrowsers.WithLabelValues("live").Set(float64(live))
	poolBrowsers.WithLabelValues("idle").Set(float64(idle))
}

// ObservePoolAcquire records how long an acquisition waited.
func ObservePoolAcquire(d time.Duration) {
	poolAcquireSeconds.Observe(d.Seconds())
}

// AddDiscovered counts discovered work items.
func AddDiscovered(n int) {
	discoveredItemsTotal.Add(float64(n))
}

// ObserveRecord increments the record counter for the given outcome.
func ObserveRecord(outcome string) {
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun increments the run counter for the given outcome.
func ObserveRun(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	activeRuns.Dec()
}

// ObserveAdmissionReject counts a rejected admission.
func ObserveAdmissionReject() {
	admissionRejectsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCache counts one result cache operation.
func ObserveCache(outcome string) {
	cacheOpsTotal.WithLabelValues(outcome).Inc()
}
