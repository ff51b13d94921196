package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher re-seeds the catalog whenever its definition file changes
type Watcher struct {
	path     string
	seeder   *Seeder
	delay    time.Duration
	log      *logrus.Logger
	onReload func(Summary, error)
}

// NewWatcher creates a watcher for path. Bursts of events within delay are
// collapsed into one reload.
func NewWatcher(path string, seeder *Seeder, delay time.Duration, log *logrus.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	if log == nil {
		log = logrus.New()
	}
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	return &Watcher{
		path:   abs,
		seeder: seeder,
		delay:  delay,
		log:    log,
	}, nil
}

// OnReload registers a callback invoked after every reload attempt
func (w *Watcher) OnReload(fn func(Summary, error)) {
	w.onReload = fn
}

// Run blocks until ctx is cancelled. The parent directory is watched rather
// than the file so editors that replace the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.log.Infof("Watching catalog definition %s", w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debugf("Catalog file event: %s", event)

			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("Catalog watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	summary, err := w.seeder.SeedFile(ctx, w.path)
	if err != nil {
		w.log.WithError(err).Error("Catalog reload failed")
	} else {
		w.log.WithFields(logrus.Fields{
			"modules":    summary.Modules,
			"submodules": summary.Submodules,
			"features":   summary.Features,
			"actions":    summary.Actions,
		}).Info("Catalog reloaded")
	}

	if w.onReload != nil {
		w.onReload(summary, err)
	}
}
