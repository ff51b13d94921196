package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission resolution
	PermissionChecksTotal *prometheus.CounterVec
	SnapshotBuildsTotal   *prometheus.CounterVec
	SnapshotBuildDuration prometheus.Histogram

	// Cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec
	CacheErrorsTotal    *prometheus.CounterVec

	// Mutations
	PermVersionBumpsTotal prometheus.Counter
	MutationsTotal        *prometheus.CounterVec
	TrialsExpiredTotal    prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iam_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iam_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iam_permission_checks_total",
				Help: "Total number of permission checks by resolution path and outcome",
			},
			[]string{"path", "allowed"},
		),
		SnapshotBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iam_snapshot_builds_total",
				Help: "Total number of permission snapshot builds",
			},
			[]string{"status"},
		),
		SnapshotBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "iam_snapshot_build_duration_seconds",
				Help:    "Permission snapshot build duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iam_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iam_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "reason"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iam_cache_evictions_total",
				Help: "Total number of cache entries evicted by tenant invalidation",
			},
			[]string{"cache_type"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iam_cache_errors_total",
				Help: "Total number of cache errors",
			},
			[]string{"operation"},
		),

		PermVersionBumpsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "iam_perm_version_bumps_total",
				Help: "Total number of tenant permission version bumps",
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iam_mutations_total",
				Help: "Total number of IAM mutations by action code",
			},
			[]string{"action"},
		),
		TrialsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "iam_trials_expired_total",
				Help: "Total number of trial entitlements locked after expiry",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "iam_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "iam_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.SnapshotBuildsTotal,
		m.SnapshotBuildDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheErrorsTotal,
		m.PermVersionBumpsTotal,
		m.MutationsTotal,
		m.TrialsExpiredTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveCheck records a permission check resolved through path
// ("superadmin", "cache", "rebuild", "fallback")
func (m *Metrics) ObserveCheck(path string, allowed bool) {
	if m == nil {
		return
	}
	m.PermissionChecksTotal.WithLabelValues(path, strconv.FormatBool(allowed)).Inc()
}

// ObserveSnapshotBuild records one snapshot build
func (m *Metrics) ObserveSnapshotBuild(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SnapshotBuildsTotal.WithLabelValues(status).Inc()
	m.SnapshotBuildDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// CacheMiss records a miss; reason is "absent", "key_missing" or "stale"
func (m *Metrics) CacheMiss(cacheType, reason string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType, reason).Inc()
}

func (m *Metrics) CacheEvicted(cacheType string, n int) {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(cacheType).Add(float64(n))
}

func (m *Metrics) CacheError(operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(operation).Inc()
}

// Mutation records an applied mutation and its version bump
func (m *Metrics) Mutation(action string, bumps int) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(action).Inc()
	m.PermVersionBumpsTotal.Add(float64(bumps))
}

func (m *Metrics) TrialsExpired(n int) {
	if m == nil {
		return
	}
	m.TrialsExpiredTotal.Add(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template to bound cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
