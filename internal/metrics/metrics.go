// Package metrics exposes Prometheus collectors for the crawler.
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
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_fetch_attempts_total",
			Help: "Remote API attempts, labeled by route and classified outcome.",
		},
		[]string{"route", "outcome"},
	)

	fetchBackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_backoff_seconds",
			Help:    "Backoff waits applied before retrying, labeled by failure class.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"class"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of local request budget wait durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"route"},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_records_total",
			Help: "Records examined, labeled by result (kept, rejected, failed).",
		},
		[]string{"result"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_cache_lookups_total",
			Help: "Record cache lookups, labeled by hit or miss.",
		},
		[]string{"result"},
	)

	frontierSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_frontier_size",
			Help: "Expansion keys waiting in the frontier.",
		},
	)

	frontierDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_frontier_dropped_total",
			Help: "Frontier drop events: pushes discarded because the frontier was full.",
		},
	)

	keptRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_kept_records",
			Help: "Records that passed classification in the current crawl state.",
		},
	)

	checkpointSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_checkpoint_saves_total",
			Help: "Checkpoint save attempts, labeled by status.",
		},
		[]string{"status"},
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one remote attempt and its classified outcome.
func ObserveFetchAttempt(route, outcome string) {
	fetchAttemptsTotal.WithLabelValues(route, outcome).Inc()
}

// ObserveBackoff records a retry wait for the given failure class.
func ObserveBackoff(class string, wait time.Duration) {
	fetchBackoffSeconds.WithLabelValues(class).Observe(wait.Seconds())
}

// ObserveRateLimitDelay records the duration of a request budget wait.
func ObserveRateLimitDelay(route string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveRecord counts one examined record.
func ObserveRecord(result string) {
	recordsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// SetFrontierSize publishes the current frontier length.
func SetFrontierSize(n int) {
	frontierSize.Set(float64(n))
}

// AddFrontierDropped adds drop events observed since the last call. A key
// rejected more than once counts once per rejection.
func AddFrontierDropped(n int) {
	if n > 0 {
		frontierDroppedTotal.Add(float64(n))
	}
}

// SetKept publishes the current kept count.
func SetKept(n int) {
	keptRecords.Set(float64(n))
}

// ObserveCheckpointSave counts a checkpoint save attempt.
func ObserveCheckpointSave(err error) {
	if err != nil {
		checkpointSavesTotal.WithLabelValues("error").Inc()
		return
	}
	checkpointSavesTotal.WithLabelValues("ok").Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
