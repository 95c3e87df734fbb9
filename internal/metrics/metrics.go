// Package metrics exposes Prometheus collectors for the scraper.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values used by the fetch and page counters.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetch_attempts_total",
			Help: "Total number of HTTP fetch attempts, labeled by site and result.",
		},
		[]string{"site", "result"},
	)

	fetchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetch_retries_total",
			Help: "Total number of fetch retries scheduled after a failed attempt, labeled by site.",
		},
		[]string{"site"},
	)

	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Total number of pages processed, labeled by site and status.",
		},
		[]string{"site", "status"},
	)

	bytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_bytes_total",
			Help: "Total number of bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Total number of records extracted, labeled by site.",
		},
		[]string{"site"},
	)

	sitesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_sites_total",
			Help: "Total number of sites completed, labeled by terminal status.",
		},
		[]string{"status"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_active_workers",
			Help: "Number of workers currently crawling a site.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_delay_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveFetchAttempt counts one fetch attempt.
func ObserveFetchAttempt(site, result string) {
	fetchAttemptsTotal.WithLabelValues(site, result).Inc()
}

// ObserveRetry counts one scheduled retry.
func ObserveRetry(site string) {
	fetchRetriesTotal.WithLabelValues(site).Inc()
}

// ObservePage counts a processed page and the bytes it carried.
func ObservePage(site, status string, bytesFetched int) {
	pagesTotal.WithLabelValues(site, status).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRecords adds n extracted records for site.
func ObserveRecords(site string, n int) {
	if n <= 0 {
		return
	}
	recordsTotal.WithLabelValues(site).Add(float64(n))
}

// ObserveSite counts a completed site by status.
func ObserveSite(status string) {
	sitesTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
