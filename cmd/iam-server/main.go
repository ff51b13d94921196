package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/restaurant-iam/pkg/audit"
	"github.com/platinummonkey/restaurant-iam/pkg/bootstrap"
	"github.com/platinummonkey/restaurant-iam/pkg/catalog"
	"github.com/platinummonkey/restaurant-iam/pkg/config"
	"github.com/platinummonkey/restaurant-iam/pkg/httputil"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/platinummonkey/restaurant-iam/pkg/middleware"
	"github.com/platinummonkey/restaurant-iam/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var version = "dev"

func main() {
	seedOnStart := flag.Bool("seed-catalog", false, "Seed the catalog from IAM_CATALOG_PATH before serving")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize IAM service")
		os.Exit(1)
	}

	if *seedOnStart && cfg.Catalog.Path != "" {
		summary, err := catalog.NewSeeder(app.CatalogWriter, app.Service).SeedFile(ctx, cfg.Catalog.Path)
		if err != nil {
			logger.WithError(err).Error("Failed to seed catalog")
			os.Exit(1)
		}
		logger.WithField("features", summary.Features).Info("Catalog seeded")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      newHandler(app),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("iam", func(context.Context) error { return app.Close() })
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	go func() {
		defer observability.RecoverPanic(logger, "http server")
		logger.Infof("Starting restaurant IAM server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// newHandler builds the router: health and metrics endpoints, the IAM admin
// API and the audit query API, wrapped in the common middleware chain
func newHandler(app *bootstrap.App) http.Handler {
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(app.Metrics))
	router.Use(middleware.NewIdentityMiddleware(true).Handler)

	observability.RegisterHealthRoutes(router, app.HealthChecker(version))
	if app.Config.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(app.Registry)).Methods(http.MethodGet)
	}

	iamHandlers := iam.NewHandlers(app.Service, app.Logger)
	iamHandlers.RegisterRoutes(router)

	if app.AuditStore != nil {
		guard := iamHandlers.Guard()
		audit.NewHandlers(app.AuditStore, auditScope).
			RegisterRoutes(router, mux.MiddlewareFunc(guard.Require("audit.logs:read")))
	}

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(app.Logger),
		httputil.RecoveryMiddleware(app.Logger),
		httputil.MaxBytesMiddleware(1<<20),
	)(router)

	return otelhttp.NewHandler(handler, "iam-server")
}

// auditScope pins tenant admins to their own restaurant; superadmins may
// query every restaurant
func auditScope(r *http.Request) (*uuid.UUID, error) {
	id := iam.IdentityFromContext(r.Context())
	if id == nil {
		return nil, audit.ErrScopeDenied
	}
	if id.IsSuperadmin {
		return nil, nil
	}
	if id.RestaurantID == uuid.Nil {
		return nil, audit.ErrScopeDenied
	}
	restaurant := id.RestaurantID
	return &restaurant, nil
}
