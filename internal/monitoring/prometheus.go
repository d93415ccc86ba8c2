// Package monitoring provides the Prometheus metrics sink for AUTHZ-CORE.
//
// Usage:
//
//  1. Setup metrics in your main function:
//     router := gin.New()
//     monitoring.SetupPrometheusMetrics(router)
//
//  2. Add HTTP metrics middleware:
//     router.Use(monitoring.HTTPMetricsMiddleware())
//
//  3. Record domain metrics from services:
//
//     monitoring.RecordCheck("database", true, time.Since(start))
//     monitoring.RecordCacheOperation("get", "hit")
//     monitoring.RecordDBOperation("select", "user_permissions", time.Since(start), true)
//     monitoring.RecordInvalidation("user", true)
//
// Available Metrics:
//
// Check Engine:
//   - authz_core_permission_checks_total{source, result}
//   - authz_core_permission_check_duration_seconds{source}
//   - authz_core_permission_check_duration_quantiles (P50/P90/P95/P99)
//   - authz_core_active_checks
//   - authz_core_batch_check_size
//   - authz_core_batch_check_duration_seconds
//
// Cache:
//   - authz_core_cache_operations_total{operation, result}
//   - authz_core_cache_invalidations_total{target, status}
//   - authz_core_cache_warmups_total{status}
//
// Circuit Breakers:
//   - authz_core_circuit_breaker_state{dependency} (0=closed, 0.5=half-open, 1=open)
//   - authz_core_circuit_breaker_failures_total{dependency}
//   - authz_core_circuit_breaker_short_circuits_total{dependency}
//
// Database:
//   - authz_core_db_operations_total{operation, table, status}
//   - authz_core_db_operation_duration_seconds{operation, table}
//
// SLO:
//   - authz_core_slo_violations_total{slo}
//   - authz_core_check_timeouts_total{stage}
//
// Errors:
//   - authz_core_errors_total{type, component}
package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SLO thresholds. Violations are counted, not enforced.
const (
	SLOCheckLatency      = 100 * time.Millisecond
	SLOBatchCacheHitRate = 0.80
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_core_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Check engine metrics
	permissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_permission_checks_total",
			Help: "Total number of permission checks by resolution source",
		},
		[]string{"source", "result"}, // source: superadmin, matrix, cache, database; result: allowed, denied, error
	)

	permissionCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_core_permission_check_duration_seconds",
			Help:    "Permission check duration in seconds by resolution source",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"source"},
	)

	permissionCheckQuantiles = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Name:       "authz_core_permission_check_duration_quantiles",
			Help:       "Permission check duration percentiles over a rolling window",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.95: 0.005, 0.99: 0.001},
			MaxAge:     5 * time.Minute,
		},
	)

	activeChecks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authz_core_active_checks",
			Help: "Number of permission checks currently in flight",
		},
	)

	batchCheckSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authz_core_batch_check_size",
			Help:    "Number of triples per batch check",
			Buckets: []float64{1, 5, 10, 25, 50, 75, 100},
		},
	)

	batchCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authz_core_batch_check_duration_seconds",
			Help:    "Batch check duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Cache metrics
	cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"operation", "result"}, // result: hit, miss, error, success
	)

	cacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_cache_invalidations_total",
			Help: "Total number of cache invalidations",
		},
		[]string{"target", "status"}, // target: user, role, global, matrix
	)

	cacheWarmupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_cache_warmups_total",
			Help: "Total number of cache warm-up batches",
		},
		[]string{"status"},
	)

	// Circuit breaker metrics
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authz_core_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 0.5=half-open, 1=open)",
		},
		[]string{"dependency"},
	)

	circuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_circuit_breaker_failures_total",
			Help: "Total number of failures recorded by circuit breakers",
		},
		[]string{"dependency"},
	)

	circuitBreakerShortCircuits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_circuit_breaker_short_circuits_total",
			Help: "Total number of calls short-circuited by open breakers",
		},
		[]string{"dependency"},
	)

	// Database operation metrics
	dbOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "table", "status"},
	)

	dbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_core_db_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "table"},
	)

	// SLO metrics
	sloViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_slo_violations_total",
			Help: "Total number of SLO threshold violations",
		},
		[]string{"slo"}, // check_latency, batch_cache_hit_rate
	)

	checkTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_check_timeouts_total",
			Help: "Total number of permission checks aborted by deadline",
		},
		[]string{"stage"},
	)

	// Matrix metrics
	matrixRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_matrix_refresh_total",
			Help: "Total number of matrix recomputations",
		},
		[]string{"trigger", "status"}, // trigger: scheduled, mutation, manual
	)

	matrixRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authz_core_matrix_refresh_duration_seconds",
			Help:    "Per-user matrix recomputation duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Error rate metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_core_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"}, // type: api, db, cache, policy, etc.
	)
)

// SetupPrometheusMetrics registers the collectors and mounts /metrics.
func SetupPrometheusMetrics(router gin.IRoutes) {
	// Register build info (ignore if already registered)
	_ = prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "authz_core_build_info",
		Help: "Build information for AUTHZ-CORE",
		ConstLabels: prometheus.Labels{
			"version":   "v1.4.0",
			"component": "authz-core",
		},
	}, func() float64 { return 1 }))

	// Register collectors (ignore if already registered; tests reuse the
	// default registry across packages)
	_ = prometheus.Register(httpRequestsTotal)
	_ = prometheus.Register(httpRequestDuration)
	_ = prometheus.Register(permissionChecksTotal)
	_ = prometheus.Register(permissionCheckDuration)
	_ = prometheus.Register(permissionCheckQuantiles)
	_ = prometheus.Register(activeChecks)
	_ = prometheus.Register(batchCheckSize)
	_ = prometheus.Register(batchCheckDuration)
	_ = prometheus.Register(cacheOperationsTotal)
	_ = prometheus.Register(cacheInvalidationsTotal)
	_ = prometheus.Register(cacheWarmupsTotal)
	_ = prometheus.Register(circuitBreakerState)
	_ = prometheus.Register(circuitBreakerFailures)
	_ = prometheus.Register(circuitBreakerShortCircuits)
	_ = prometheus.Register(dbOperationsTotal)
	_ = prometheus.Register(dbOperationDuration)
	_ = prometheus.Register(sloViolationsTotal)
	_ = prometheus.Register(checkTimeoutsTotal)
	_ = prometheus.Register(matrixRefreshTotal)
	_ = prometheus.Register(matrixRefreshDuration)
	_ = prometheus.Register(errorsTotal)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HTTPMetricsMiddleware collects HTTP request metrics.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		endpoint := normalizeEndpoint(c.Request.URL.Path)

		c.Next()

		statusCode := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration)

		if c.Writer.Status() >= 400 {
			errorsTotal.WithLabelValues("http", endpoint).Inc()
		}
	}
}

// RecordCheck records one resolved permission check. source names the layer
// that produced the answer (superadmin, matrix, cache, database).
func RecordCheck(source string, allowed bool, duration time.Duration) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	permissionChecksTotal.WithLabelValues(source, result).Inc()
	permissionCheckDuration.WithLabelValues(source).Observe(duration.Seconds())
	permissionCheckQuantiles.Observe(duration.Seconds())
	if duration > SLOCheckLatency {
		sloViolationsTotal.WithLabelValues("check_latency").Inc()
	}
	stats.recordCheck(allowed, duration)
}

// RecordCheckError records a check that failed before resolution.
func RecordCheckError(source string) {
	permissionChecksTotal.WithLabelValues(source, "error").Inc()
	errorsTotal.WithLabelValues("check", source).Inc()
	stats.recordError()
}

// CheckStarted / CheckFinished maintain the in-flight gauge.
func CheckStarted()  { activeChecks.Inc() }
func CheckFinished() { activeChecks.Dec() }

// RecordBatchCheck records one batch check. A cache hit rate below the SLO
// threshold counts a violation.
func RecordBatchCheck(size int, duration time.Duration, cacheHitRate float64) {
	batchCheckSize.Observe(float64(size))
	batchCheckDuration.Observe(duration.Seconds())
	if size > 0 && cacheHitRate < SLOBatchCacheHitRate {
		sloViolationsTotal.WithLabelValues("batch_cache_hit_rate").Inc()
	}
}

// RecordCacheOperation records cache operation metrics.
func RecordCacheOperation(operation, result string) {
	cacheOperationsTotal.WithLabelValues(operation, result).Inc()
	switch result {
	case "hit":
		stats.recordCacheHit()
	case "miss":
		stats.recordCacheMiss()
	case "error":
		errorsTotal.WithLabelValues("cache", operation).Inc()
	}
}

// RecordInvalidation records a cache/matrix invalidation fan-out result.
func RecordInvalidation(target string, success bool) {
	status := "success"
	if !success {
		status = "error"
		errorsTotal.WithLabelValues("invalidation", target).Inc()
	}
	cacheInvalidationsTotal.WithLabelValues(target, status).Inc()
}

// RecordCacheWarmup records a warm-up batch outcome.
func RecordCacheWarmup(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	cacheWarmupsTotal.WithLabelValues(status).Inc()
}

// SetCircuitBreakerState exports a breaker position
// (0=closed, 0.5=half-open, 1=open).
func SetCircuitBreakerState(dependency string, value float64) {
	circuitBreakerState.WithLabelValues(dependency).Set(value)
}

// RecordBreakerFailure counts one guarded-call failure.
func RecordBreakerFailure(dependency string) {
	circuitBreakerFailures.WithLabelValues(dependency).Inc()
}

// RecordBreakerShortCircuit counts one short-circuited call.
func RecordBreakerShortCircuit(dependency string) {
	circuitBreakerShortCircuits.WithLabelValues(dependency).Inc()
}

// RecordDBOperation records database operation metrics.
func RecordDBOperation(operation, table string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
		errorsTotal.WithLabelValues("db", table).Inc()
	}
	dbOperationsTotal.WithLabelValues(operation, table, status).Inc()
	dbOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordCheckTimeout counts a check aborted by its deadline at the given
// pipeline stage.
func RecordCheckTimeout(stage string) {
	checkTimeoutsTotal.WithLabelValues(stage).Inc()
	errorsTotal.WithLabelValues("timeout", stage).Inc()
	stats.recordError()
}

// RecordMatrixRefresh records a matrix recomputation outcome.
func RecordMatrixRefresh(trigger string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
		errorsTotal.WithLabelValues("matrix", trigger).Inc()
	}
	matrixRefreshTotal.WithLabelValues(trigger, status).Inc()
	matrixRefreshDuration.Observe(duration.Seconds())
}

// RecordError counts a generic component error.
func RecordError(errType, component string) {
	errorsTotal.WithLabelValues(errType, component).Inc()
}

// normalizeEndpoint replaces ID-shaped path segments so metric cardinality
// stays bounded.
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if i > 0 && isIDSegment(part) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// isIDSegment reports whether a path segment looks like a numeric ID or UUID.
func isIDSegment(s string) bool {
	if s == "" {
		return false
	}
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		return true
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
