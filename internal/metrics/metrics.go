// Package metrics exposes Prometheus collectors for the ingestion service.
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
	ingestPagesTotal           *prometheus.CounterVec
	ingestJobsTotal            *prometheus.CounterVec
	ingestLinksExtractedTotal  prometheus.Counter
	ingestActiveWorkers        prometheus.Gauge
	ingestRateLimitDenials     prometheus.Counter
	ingestEventsDroppedTotal   prometheus.Counter
	ingestOrphansTotal         prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		ingestJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_total",
				Help: "Total number of crawl jobs finished, labeled by terminal state.",
			},
			[]string{"state"},
		)

		ingestLinksExtractedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_links_extracted_total",
				Help: "Total number of links extracted from crawled pages.",
			},
		)

		ingestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		ingestRateLimitDenials = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_rate_limit_denials_total",
				Help: "Total number of requests denied by the fixed-window rate limiter.",
			},
		)

		ingestEventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_events_dropped_total",
				Help: "Total number of progress events dropped on slow subscribers.",
			},
		)

		ingestOrphansTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_orphaned_sources_total",
				Help: "Total number of sources marked orphaned by the reconciler.",
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

// ObservePage increments the page fetch counter.
func ObservePage(site string, status int) {
	ingestPagesTotal.WithLabelValues(SanitizeSite(site), strconv.Itoa(status)).Inc()
}

// ObserveJob increments the job counter for the given terminal state.
func ObserveJob(state string) {
	ingestJobsTotal.WithLabelValues(state).Inc()
}

// ObserveLinksExtracted adds to the extracted link counter.
func ObserveLinksExtracted(n int) {
	if n > 0 {
		ingestLinksExtractedTotal.Add(float64(n))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	ingestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	ingestActiveWorkers.Dec()
}

// ObserveRateLimitDenial increments the rate limiter denial counter.
func ObserveRateLimitDenial() {
	ingestRateLimitDenials.Inc()
}

// ObserveDroppedEvent increments the dropped progress event counter.
func ObserveDroppedEvent() {
	ingestEventsDroppedTotal.Inc()
}

// ObserveOrphanedSources adds to the orphaned source counter.
func ObserveOrphanedSources(n int) {
	if n > 0 {
		ingestOrphansTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
