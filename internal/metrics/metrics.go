// Package metrics provides Prometheus metrics for the PropNest server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propnest_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propnest_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Media gateway metrics
	mediaSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propnest_media_saves_total",
			Help: "Total media save calls",
		},
		[]string{"category", "backend", "status"},
	)

	mediaBytesSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propnest_media_bytes_saved_total",
			Help: "Total bytes persisted by successful saves",
		},
		[]string{"backend"},
	)

	mediaDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propnest_media_deletes_total",
			Help: "Total media delete calls by outcome",
		},
		[]string{"category", "backend", "result"},
	)

	mediaOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propnest_media_operation_duration_seconds",
			Help:    "Gateway save/delete duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	// Backend metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propnest_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propnest_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propnest_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Quota metrics
	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propnest_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMediaSave records a gateway save.
func RecordMediaSave(category, backend string, bytes int, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	} else {
		mediaBytesSaved.WithLabelValues(backend).Add(float64(bytes))
	}
	mediaSavesTotal.WithLabelValues(category, backend, status).Inc()
	mediaOperationDuration.WithLabelValues("save", backend).Observe(duration.Seconds())
}

// RecordMediaDelete records a gateway delete. result is "deleted",
// "not_found" or "error".
func RecordMediaDelete(category, backend, result string, duration time.Duration) {
	mediaDeletesTotal.WithLabelValues(category, backend, result).Inc()
	mediaOperationDuration.WithLabelValues("delete", backend).Observe(duration.Seconds())
}

// RecordStorageOperation records a single backend call.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a rejected request.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
// Paths are labelled by route pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
