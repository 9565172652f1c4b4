// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsingest_fetch_attempts_total",
			Help: "Total number of fetch attempts, labeled by source, request class and outcome.",
		},
		[]string{"source", "class", "outcome"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsingest_fetch_bytes_total",
			Help: "Total number of bytes fetched, labeled by source.",
		},
		[]string{"source"},
	)

	rateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsingest_rate_limit_wait_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"source", "class"},
	)

	ingestOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsingest_ingest_outcomes_total",
			Help: "Total number of ingestion outcomes, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	categoryMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsingest_category_misses_total",
			Help: "Raw categories that fell back to other, labeled by source.",
		},
		[]string{"source"},
	)

	presignFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsingest_presign_failures_total",
			Help: "Total number of presigned URL issuance failures.",
		},
	)

	mediaUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsingest_media_uploads_total",
			Help: "Media upload attempts, labeled by source and result.",
		},
		[]string{"source", "result"},
	)

	cycleDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsingest_cycle_duration_seconds",
			Help:    "Histogram of poll cycle durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"source"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsingest_active_workers",
			Help: "Number of source workers currently running.",
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
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFetchAttempt records one fetch attempt and, on success, the bytes received.
func ObserveFetchAttempt(source, class, outcome string, bytesFetched int) {
	fetchAttemptsTotal.WithLabelValues(source, class, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(source).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitWait records the duration of a rate limit wait.
func ObserveRateLimitWait(source, class string, duration time.Duration) {
	rateLimitWaitSeconds.WithLabelValues(source, class).Observe(duration.Seconds())
}

// ObserveIngest increments the outcome counter for an ingested item.
func ObserveIngest(source, outcome string) {
	ingestOutcomesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveCategoryMiss counts a raw category that mapped to other.
func ObserveCategoryMiss(source string) {
	categoryMissesTotal.WithLabelValues(source).Inc()
}

// ObservePresignFailure counts a failed presign call.
func ObservePresignFailure() {
	presignFailuresTotal.Inc()
}

// ObserveMediaUpload records the result of a media upload.
func ObserveMediaUpload(source, result string) {
	mediaUploadsTotal.WithLabelValues(source, result).Inc()
}

// ObserveCycle records the duration of one poll cycle.
func ObserveCycle(source string, duration time.Duration) {
	cycleDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
