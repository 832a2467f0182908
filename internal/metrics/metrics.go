// Package metrics exposes Prometheus collectors for the crawler and the ETL workers.
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
	listingPagesTotal          *prometheus.CounterVec
	jobNumbersDiscoveredTotal  prometheus.Counter
	enqueueFailuresTotal       prometheus.Counter
	paginationDelaySeconds     prometheus.Histogram
	etlRunsTotal               *prometheus.CounterVec
	etlDurationSeconds         *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	deadLetterDepth            prometheus.Gauge
	deadLetterReportsTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		listingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hellowork_listing_pages_total",
				Help: "Total number of result listing pages read, labeled by site.",
			},
			[]string{"site"},
		)

		jobNumbersDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hellowork_job_numbers_discovered_total",
				Help: "Total number of job numbers read off listing pages.",
			},
		)

		enqueueFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hellowork_enqueue_failures_total",
				Help: "Total number of job numbers that could not be enqueued.",
			},
		)

		paginationDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hellowork_pagination_delay_seconds",
				Help:    "Histogram of time spent waiting between listing pages.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		etlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hellowork_etl_runs_total",
				Help: "Total number of ETL runs, labeled by final state and failure kind.",
			},
			[]string{"state", "kind"},
		)

		etlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hellowork_etl_duration_seconds",
				Help:    "Histogram of ETL run durations, labeled by final state.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"state"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hellowork_active_workers",
				Help: "Number of workers currently processing a queue message.",
			},
		)

		deadLetterDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hellowork_deadletter_depth",
				Help: "Dead-letter queue depth observed by the last inspector run.",
			},
		)

		deadLetterReportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hellowork_deadletter_reports_total",
				Help: "Total number of dead-letter reports filed, labeled by reporter.",
			},
			[]string{"reporter"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hellowork_http_requests_total",
				Help: "Total number of ops HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hellowork_http_request_duration_seconds",
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

// ObserveListingPage records one listing page and the job numbers read from it.
func ObserveListingPage(pageURL string, jobNumbers int) {
	Init()
	listingPagesTotal.WithLabelValues(SanitizeSite(pageURL)).Inc()
	jobNumbersDiscoveredTotal.Add(float64(jobNumbers))
}

// ObserveEnqueueFailure counts a job number that did not make it onto the queue.
func ObserveEnqueueFailure() {
	Init()
	enqueueFailuresTotal.Inc()
}

// ObservePaginationDelay records the duration of an inter-page wait.
func ObservePaginationDelay(duration time.Duration) {
	Init()
	paginationDelaySeconds.Observe(duration.Seconds())
}

// ObserveETL records a finished ETL run. Kind is empty for successful runs.
func ObserveETL(state, kind string, duration time.Duration) {
	Init()
	if kind == "" {
		kind = "none"
	}
	etlRunsTotal.WithLabelValues(state, kind).Inc()
	etlDurationSeconds.WithLabelValues(state).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetDeadLetterDepth records the depth seen by the inspector.
func SetDeadLetterDepth(depth int) {
	Init()
	deadLetterDepth.Set(float64(depth))
}

// ObserveDeadLetterReport counts a filed dead-letter report.
func ObserveDeadLetterReport(reporter string) {
	Init()
	deadLetterReportsTotal.WithLabelValues(reporter).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
