// Package metrics exposes Prometheus collectors for the provider crawler.
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
	searchPagesTotal           *prometheus.CounterVec
	searchBytesTotal           prometheus.Counter
	searchPageDurationSeconds  *prometheus.HistogramVec
	sessionAttemptsTotal       *prometheus.CounterVec
	providerRecordsTotal       *prometheus.CounterVec
	regionsTotal               *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	rateLimitDelaysSeconds     prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once, and the
// Observe helpers call it themselves.
func Init() {
	once.Do(func() {
		searchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "providers_search_pages_total",
				Help: "Search pages fetched, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		searchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "providers_search_bytes_total",
				Help: "Bytes of search responses received.",
			},
		)

		searchPageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "providers_search_page_duration_seconds",
				Help:    "Latency of one search page request.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		sessionAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "providers_session_attempts_total",
				Help: "Session bootstrap attempts, labeled by result.",
			},
			[]string{"result"},
		)

		providerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "providers_records_total",
				Help: "Provider records handled, labeled by result (inserted, updated, rejected, failed).",
			},
			[]string{"result"},
		)

		regionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "providers_regions_total",
				Help: "Regions processed, labeled by termination reason.",
			},
			[]string{"reason"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "providers_runs_total",
				Help: "Crawl runs, labeled by final status.",
			},
			[]string{"status"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "providers_rate_limit_delays_seconds",
				Help:    "Time spent waiting on the request rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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

// ObserveSearchPage records one page request.
func ObserveSearchPage(source, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	searchPagesTotal.WithLabelValues(source, outcome).Inc()
	if bytesFetched > 0 {
		searchBytesTotal.Add(float64(bytesFetched))
	}
	if duration > 0 {
		searchPageDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// ObserveSessionAttempt records one bootstrap attempt.
func ObserveSessionAttempt(success bool) {
	Init()
	result := "failure"
	if success {
		result = "success"
	}
	sessionAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveRecord records the fate of one provider record.
func ObserveRecord(result string) {
	Init()
	providerRecordsTotal.WithLabelValues(result).Inc()
}

// ObserveRegion records a finished region.
func ObserveRegion(reason string) {
	Init()
	regionsTotal.WithLabelValues(reason).Inc()
}

// ObserveRun records a finished crawl run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
