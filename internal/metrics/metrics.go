// Package metrics exposes Prometheus collectors for the aggregator.
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
	feedsTotal                 *prometheus.CounterVec
	articlesTotal              *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	poolPendingTasks           *prometheus.GaugeVec
	poolBusyWorkers            *prometheus.GaugeVec
	poolSpawnedWorkers         *prometheus.GaugeVec
	poolTasksTotal             *prometheus.CounterVec
	poolPanicsTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	buildDurationSeconds       prometheus.Histogram
	robotsFallbacksTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		feedsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_feeds_total",
				Help: "Total number of feeds handled, labeled by outcome.",
			},
			[]string{"status"},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_articles_total",
				Help: "Total number of articles handled, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_bytes_total",
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

		poolPendingTasks = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threadpool_pending_tasks",
				Help: "Tasks scheduled on a pool that have not finished executing.",
			},
			[]string{"pool"},
		)

		poolBusyWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threadpool_busy_workers",
				Help: "Workers currently executing a task.",
			},
			[]string{"pool"},
		)

		poolSpawnedWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threadpool_spawned_workers",
				Help: "Worker goroutines spawned so far.",
			},
			[]string{"pool"},
		)

		poolTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadpool_tasks_total",
				Help: "Total number of tasks executed to completion.",
			},
			[]string{"pool"},
		)

		poolPanicsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadpool_task_panics_total",
				Help: "Total number of task panics recovered by workers.",
			},
			[]string{"pool"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aggregator_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		buildDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aggregator_build_duration_seconds",
				Help:    "Wall time spent building the index.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		robotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_robots_fallbacks_total",
				Help: "robots.txt probes answered with allow-all after repeated handshake timeouts.",
			},
			[]string{"site"},
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

// ObserveFeed increments the feed counter for the given outcome.
func ObserveFeed(status string) {
	Init()
	feedsTotal.WithLabelValues(status).Inc()
}

// ObserveArticle increments the article counter for the given site and outcome.
func ObserveArticle(site string, status string) {
	Init()
	articlesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveBytes records the size of a fetched body.
func ObserveBytes(site string, n int) {
	if n <= 0 {
		return
	}
	Init()
	bytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetPoolPending records the pending task count of a pool.
func SetPoolPending(pool string, n int) {
	Init()
	poolPendingTasks.WithLabelValues(pool).Set(float64(n))
}

// SetPoolSpawned records how many workers a pool has spawned.
func SetPoolSpawned(pool string, n int) {
	Init()
	poolSpawnedWorkers.WithLabelValues(pool).Set(float64(n))
}

// IncPoolBusy increments the busy worker gauge for a pool.
func IncPoolBusy(pool string) {
	Init()
	poolBusyWorkers.WithLabelValues(pool).Inc()
}

// DecPoolBusy decrements the busy worker gauge for a pool.
func DecPoolBusy(pool string) {
	Init()
	poolBusyWorkers.WithLabelValues(pool).Dec()
}

// ObservePoolTask counts one completed task.
func ObservePoolTask(pool string) {
	Init()
	poolTasksTotal.WithLabelValues(pool).Inc()
}

// ObservePoolPanic counts one recovered task panic.
func ObservePoolPanic(pool string) {
	Init()
	poolPanicsTotal.WithLabelValues(pool).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveBuild records how long an index build took.
func ObserveBuild(duration time.Duration) {
	Init()
	buildDurationSeconds.Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback(site string) {
	Init()
	robotsFallbacksTotal.WithLabelValues(SanitizeSite(site)).Inc()
}
