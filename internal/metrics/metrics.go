// Package metrics exposes Prometheus collectors for the blogpulse service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	crawlRunsTotal             *prometheus.CounterVec
	crawlRunDurationSeconds    prometheus.Histogram
	activeCrawlRuns            prometheus.Gauge
	postsUpsertedTotal         *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	cacheBackendErrorsTotal    prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogpulse_fetches_total",
				Help: "Total number of page fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogpulse_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogpulse_crawl_runs_total",
				Help: "Total number of crawl runs, labeled by scope kind and final status.",
			},
			[]string{"kind", "status"},
		)

		crawlRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blogpulse_crawl_run_duration_seconds",
				Help:    "Histogram of crawl run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
		)

		activeCrawlRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blogpulse_active_crawl_runs",
				Help: "Number of crawl runs currently in progress.",
			},
		)

		postsUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogpulse_posts_upserted_total",
				Help: "Total number of post upserts, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blogpulse_rate_limit_delays_seconds",
				Help:    "Histogram of pacing wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogpulse_cache_lookups_total",
				Help: "Total number of query cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		cacheBackendErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blogpulse_cache_backend_errors_total",
				Help: "Total number of query cache backend failures.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch outcome.
func ObserveFetch(site, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCrawlRun records a finished crawl run.
func ObserveCrawlRun(kind, status string, duration time.Duration) {
	Init()
	crawlRunsTotal.WithLabelValues(kind, status).Inc()
	crawlRunDurationSeconds.Observe(duration.Seconds())
}

// IncActiveRuns increments the active crawl runs gauge.
func IncActiveRuns() {
	Init()
	activeCrawlRuns.Inc()
}

// DecActiveRuns decrements the active crawl runs gauge.
func DecActiveRuns() {
	Init()
	activeCrawlRuns.Dec()
}

// ObserveUpsert counts one upsert by result.
func ObserveUpsert(result string) {
	Init()
	postsUpsertedTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheBackendError counts a failed cache backend call.
func ObserveCacheBackendError() {
	Init()
	cacheBackendErrorsTotal.Inc()
}
