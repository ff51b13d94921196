// Package bootstrap assembles the IAM service and its dependencies from
// configuration. The server and worker binaries share it.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/restaurant-iam/pkg/audit"
	"github.com/platinummonkey/restaurant-iam/pkg/cache"
	"github.com/platinummonkey/restaurant-iam/pkg/config"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/platinummonkey/restaurant-iam/pkg/observability"
	"github.com/platinummonkey/restaurant-iam/pkg/storage/memory"
	"github.com/platinummonkey/restaurant-iam/pkg/storage/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

// App holds the wired components. DB, Cache and AuditStore are nil when the
// configuration does not use them.
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	DB            *sql.DB
	Repos         iam.Repositories
	CatalogWriter iam.CatalogWriter
	Cache         cache.Cache
	Audit         audit.Logger
	AuditStore    audit.Store
	Service       *iam.Service

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New wires every component. On error, whatever was already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (app *App, err error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	registry := prometheus.NewRegistry()
	app = &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  observability.NewMetrics(registry),
	}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	if err = app.openStorage(ctx); err != nil {
		return app, err
	}

	app.Cache, err = cache.New(cfg.Cache)
	if err != nil {
		return app, fmt.Errorf("failed to initialize cache: %w", err)
	}
	if app.Cache != nil {
		app.onClose("cache", app.Cache.Close)
		logger.WithField("backend", cfg.Cache.Backend).Info("Snapshot cache initialized")
	} else {
		logger.Warn("Snapshot cache disabled; every permission check rebuilds")
	}

	if err = app.openAudit(); err != nil {
		return app, err
	}

	var snapshotCache iam.Cache
	if app.Cache != nil {
		snapshotCache = app.Cache
	}
	app.Service = iam.NewService(app.Repos, snapshotCache,
		iam.WithLogger(logger),
		iam.WithMetrics(app.Metrics),
		iam.WithAuditLogger(app.Audit),
		iam.WithConfig(iam.Config{
			CacheTTL:           cfg.Cache.TTL,
			StrictVersionCheck: cfg.IAM.StrictVersionCheck,
			CoalesceRebuilds:   cfg.IAM.CoalesceRebuilds,
		}),
	)

	return app, nil
}

func (a *App) openStorage(ctx context.Context) error {
	switch a.Config.Storage.Type {
	case "memory":
		store := memory.New()
		a.Repos = store.Repositories()
		a.CatalogWriter = store
		a.Logger.Warn("Using in-memory storage; data is lost on restart")
		return nil

	case "postgres":
		store, err := postgres.Open(postgres.Config{
			URL:         a.Config.Storage.PostgresURL,
			MaxConns:    a.Config.Storage.PostgresMaxConns,
			MinConns:    a.Config.Storage.PostgresMinConns,
			Timeout:     a.Config.Storage.PostgresTimeout,
			MaxLifetime: a.Config.Storage.PostgresMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.onClose("postgres", store.Close)

		if a.Config.Storage.RunMigrations {
			if err := postgres.RunMigrations(ctx, store.DB(), a.Logger); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		a.DB = store.DB()
		a.Repos = store.Repositories()
		a.CatalogWriter = store
		a.Logger.Info("Connected to PostgreSQL")
		return nil

	default:
		return fmt.Errorf("unsupported storage type: %s", a.Config.Storage.Type)
	}
}

func (a *App) openAudit() error {
	var sinks []audit.Logger

	if a.Config.Audit.DatabaseEnabled {
		if a.DB == nil {
			return errors.New("database audit logging requires postgres storage")
		}
		dbLogger, err := audit.NewDBLogger(a.DB)
		if err != nil {
			return fmt.Errorf("failed to initialize audit table: %w", err)
		}
		sinks = append(sinks, dbLogger)
		a.AuditStore = audit.NewDBStore(dbLogger)
	}

	if a.Config.Audit.FilePath != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: a.Config.Audit.FilePath,
			Rotate:   true,
		})
		if err != nil {
			return fmt.Errorf("failed to open audit log file: %w", err)
		}
		sinks = append(sinks, fileLogger)
	}

	if len(sinks) == 0 {
		a.Audit = audit.NewNoOpLogger()
		return nil
	}

	multi := audit.NewMultiLogger(sinks...)
	multi.SetAsync(true)
	a.Audit = multi
	a.onClose("audit", multi.Close)
	return nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// RedisClient returns the cache's Redis client, or nil for other backends
func (a *App) RedisClient() *redis.Client {
	if rc, ok := a.Cache.(*cache.RedisCache); ok {
		return rc.Client()
	}
	return nil
}

// HealthChecker reports on the database and Redis, when configured. An
// unseeded catalog degrades readiness.
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	h := observability.NewHealthChecker(a.DB, a.RedisClient(), version)
	h.AddCheck("catalog", false, func(ctx context.Context) error {
		actions, err := a.Repos.Catalog.ListActions(ctx)
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			return errors.New("catalog has no actions")
		}
		return nil
	})
	return h
}

// Close releases components in reverse order of opening
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Logger.WithError(err).WithField("component", c.name).Error("Failed to close component")
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
