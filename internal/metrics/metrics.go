// Package metrics provides Prometheus metrics for the filedepot server.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedepot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedepot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedepot_storage_operations_total",
			Help: "Storage backend operations by backend type, operation and outcome",
		},
		[]string{"backend", "operation", "outcome"},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedepot_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedepot_db_query_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	dbRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filedepot_db_retries_total",
			Help: "Total number of retried database operations",
		},
	)

	dbSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filedepot_db_sessions_active",
			Help: "Number of currently active database sessions",
		},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedepot_auth_attempts_total",
			Help: "Authentication attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStorageOperation records a storage backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	storageOperationsTotal.WithLabelValues(backend, operation, outcome).Inc()
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordDBQuery records a database operation duration.
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDBRetry records one retried database operation.
func RecordDBRetry() {
	dbRetriesTotal.Inc()
}

// SessionOpened increments the active session gauge.
func SessionOpened() {
	dbSessionsActive.Inc()
}

// SessionClosed decrements the active session gauge.
func SessionClosed() {
	dbSessionsActive.Dec()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	authAttemptsTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
