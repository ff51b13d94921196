package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/platinummonkey/restaurant-iam/pkg/audit"
	"github.com/platinummonkey/restaurant-iam/pkg/bootstrap"
	"github.com/platinummonkey/restaurant-iam/pkg/config"
	"github.com/platinummonkey/restaurant-iam/pkg/maintenance"
	"github.com/platinummonkey/restaurant-iam/pkg/observability"
	"github.com/platinummonkey/restaurant-iam/pkg/storage/s3"
)

var (
	runOnce    = flag.String("run-once", "", "Run one job (trial-expiry or audit-archive) and exit")
	jobTimeout = flag.Duration("job-timeout", 10*time.Minute, "Maximum duration of a single job run")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize IAM service")
		os.Exit(1)
	}
	defer app.Close()

	jobs, err := buildJobs(ctx, app)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize jobs")
		app.Close()
		os.Exit(1)
	}

	scheduler := maintenance.NewScheduler(logger, *jobTimeout)

	if *runOnce != "" {
		job, ok := jobs[*runOnce]
		if !ok {
			logger.Errorf("Unknown job %q", *runOnce)
			app.Close()
			os.Exit(2)
		}
		if err := scheduler.RunJob(ctx, job); err != nil {
			app.Close()
			os.Exit(1)
		}
		logger.Infof("Job %s completed", job.Name())
		return
	}

	schedules := map[string]string{
		"trial-expiry":  cfg.Worker.TrialExpirySchedule,
		"audit-archive": cfg.Worker.AuditArchiveSchedule,
	}
	for name, job := range jobs {
		if err := scheduler.Add(schedules[name], job); err != nil {
			logger.WithError(err).Error("Failed to schedule job")
			app.Close()
			os.Exit(1)
		}
	}

	scheduler.Start()
	logger.Info("Restaurant IAM worker started")

	shutdown := observability.NewShutdownManager(logger, nil, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("scheduler", scheduler.Stop)
	shutdown.RegisterShutdownFunc("iam", func(context.Context) error { return app.Close() })
	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Warn("Worker stopped with errors")
		os.Exit(1)
	}
}

// buildJobs returns the jobs keyed by name. The audit archive job needs the
// database audit store and is omitted without it.
func buildJobs(ctx context.Context, app *bootstrap.App) (map[string]maintenance.Job, error) {
	jobs := map[string]maintenance.Job{
		"trial-expiry": maintenance.NewTrialExpiryJob(app.Service, app.Logger),
	}

	if app.AuditStore == nil {
		app.Logger.Info("Database audit store disabled; audit archiving not scheduled")
		return jobs, nil
	}

	var uploader maintenance.Uploader
	if app.Config.Archive.Enabled {
		archive, err := s3.NewArchive(ctx, s3.Config{
			Endpoint:     app.Config.Archive.S3Endpoint,
			Region:       app.Config.Archive.S3Region,
			Bucket:       app.Config.Archive.S3Bucket,
			Prefix:       app.Config.Archive.S3Prefix,
			AccessKey:    app.Config.Archive.S3AccessKey,
			SecretKey:    app.Config.Archive.S3SecretKey,
			UsePathStyle: app.Config.Archive.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		uploader = archive
	}

	jobs["audit-archive"] = maintenance.NewAuditArchiveJob(app.AuditStore, uploader,
		audit.RetentionPolicy{RetentionDays: app.Config.Audit.RetentionDays}, app.Logger)
	return jobs, nil
}
