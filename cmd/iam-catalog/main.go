package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/restaurant-iam/pkg/bootstrap"
	"github.com/platinummonkey/restaurant-iam/pkg/catalog"
	"github.com/platinummonkey/restaurant-iam/pkg/config"
	"github.com/platinummonkey/restaurant-iam/pkg/observability"
	"github.com/sirupsen/logrus"
)

func main() {
	file := flag.String("file", "", "Catalog definition file (default: IAM_CATALOG_PATH)")
	watch := flag.Bool("watch", false, "Keep running and re-seed whenever the file changes")
	delay := flag.Duration("delay", time.Second, "Quiet period after a change before re-seeding")
	validateOnly := flag.Bool("validate", false, "Validate the file and exit without touching the database")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *validateOnly {
		if *file == "" {
			log.Fatal("-file is required with -validate")
		}
		def, err := catalog.LoadDefinition(*file)
		if err != nil {
			log.Fatalf("Catalog is invalid: %v", err)
		}
		modules, submodules, features, actions := def.Counts()
		log.Infof("Catalog is valid: %d modules, %d submodules, %d features, %d actions",
			modules, submodules, features, actions)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *file == "" {
		*file = cfg.Catalog.Path
	}
	if *file == "" {
		log.Fatal("No catalog file: pass -file or set IAM_CATALOG_PATH")
	}
	if !*watch {
		*watch = cfg.Catalog.Watch
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, observability.NewLogger(observability.WarnLevel, os.Stderr))
	if err != nil {
		log.Fatalf("Failed to initialize IAM service: %v", err)
	}
	defer app.Close()

	seeder := catalog.NewSeeder(app.CatalogWriter, app.Service)
	summary, err := seeder.SeedFile(ctx, *file)
	if err != nil {
		log.Errorf("Failed to seed catalog: %v", err)
		app.Close()
		os.Exit(1)
	}
	log.WithFields(logrus.Fields{
		"modules":    summary.Modules,
		"submodules": summary.Submodules,
		"features":   summary.Features,
		"actions":    summary.Actions,
	}).Infof("Seeded catalog from %s", *file)

	if !*watch {
		return
	}

	watcher, err := catalog.NewWatcher(*file, seeder, *delay, log)
	if err != nil {
		log.Errorf("Failed to create watcher: %v", err)
		app.Close()
		os.Exit(1)
	}
	if err := watcher.Run(ctx); err != nil {
		log.Errorf("Watcher stopped: %v", err)
		app.Close()
		os.Exit(1)
	}
	log.Info("Stopped watching catalog")
}
