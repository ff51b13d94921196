// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("restaurant_id", id).Info("permissions rebuilt")
//
// Request-scoped logging picks up the request and user ids placed in the
// context by the HTTP middleware:
//
//	observability.FromContext(ctx).WithError(err).Warn("cache eviction failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveCheck("cache", true)
//
// Every Metrics method is safe on a nil receiver so libraries can accept an
// optional *Metrics.
//
// # Tracing
//
// InitOTel installs global tracer and meter providers exporting over OTLP/gRPC.
// Packages obtain tracers through otel.Tracer and need no direct reference to
// the providers.
//
// # Health
//
// HealthChecker exposes /health/live and /health/ready, pinging PostgreSQL
// and Redis when they are configured.
package observability
