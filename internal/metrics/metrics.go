// Package metrics exposes Prometheus collectors for the sitemap monitor.
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
	checksTotal                *prometheus.CounterVec
	checkDurationSeconds       prometheus.Histogram
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	documentsParsedTotal       *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	schedulerTicksTotal        prometheus.Counter
	jobsEnqueuedTotal          *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemon_checks_total",
				Help: "Total number of sitemap checks, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		checkDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitemon_check_duration_seconds",
				Help:    "Histogram of end-to-end check durations.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
			},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemon_fetch_attempts_total",
				Help: "Total number of HTTP fetch attempts, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemon_fetch_bytes_total",
				Help: "Total number of feed bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		documentsParsedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemon_documents_parsed_total",
				Help: "Total number of feed documents parsed, labeled by kind.",
			},
			[]string{"kind"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemon_notifications_total",
				Help: "Total number of notification attempts, labeled by channel type and status.",
			},
			[]string{"channel_type", "status"},
		)

		schedulerTicksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitemon_scheduler_ticks_total",
				Help: "Total number of dispatch ticks evaluated.",
			},
		)

		jobsEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemon_jobs_enqueued_total",
				Help: "Total number of check jobs enqueued, labeled by reason.",
			},
			[]string{"reason"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemon_jobs_total",
				Help: "Total number of check jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitemon_active_workers",
				Help: "Number of workers currently processing a check job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitemon_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
	Init()
	return promhttp.Handler()
}

// ObserveCheck records one finished check by outcome.
func ObserveCheck(outcome string, duration time.Duration) {
	Init()
	checksTotal.WithLabelValues(outcome).Inc()
	checkDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetchAttempt records one HTTP attempt and the bytes it returned.
func ObserveFetchAttempt(site, result string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchAttemptsTotal.WithLabelValues(sanitizedSite, result).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveDocumentParsed counts a parsed urlset or sitemapindex document.
func ObserveDocumentParsed(kind string) {
	Init()
	documentsParsedTotal.WithLabelValues(kind).Inc()
}

// ObserveNotification counts a notification attempt.
func ObserveNotification(channelType, status string) {
	Init()
	notificationsTotal.WithLabelValues(channelType, status).Inc()
}

// ObserveSchedulerTick counts one dispatch tick.
func ObserveSchedulerTick() {
	Init()
	schedulerTicksTotal.Inc()
}

// ObserveJobEnqueued counts a check job submission.
func ObserveJobEnqueued(reason string) {
	Init()
	jobsEnqueuedTotal.WithLabelValues(reason).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
