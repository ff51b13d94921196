package maintenance

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/restaurant-iam/pkg/observability"
	"github.com/robfig/cron/v3"
)

// Scheduler runs jobs on cron schedules in UTC. A job still running when its
// next tick arrives is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	logger  *observability.Logger
	timeout time.Duration
}

// NewScheduler creates a scheduler; each run is bounded by timeout
func NewScheduler(logger *observability.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		timeout: timeout,
	}
}

// Add schedules job. An empty schedule disables it.
func (s *Scheduler) Add(schedule string, job Job) error {
	if schedule == "" {
		s.logger.WithField("job", job.Name()).Info("Job disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunJob(context.Background(), job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
	}
	s.logger.WithFields(map[string]interface{}{
		"job":      job.Name(),
		"schedule": schedule,
	}).Info("Job scheduled")
	return nil
}

// RunJob runs job once with the scheduler's timeout, logging its outcome.
// A panicking job is logged and reported as an error.
func (s *Scheduler) RunJob(parent context.Context, job Job) (err error) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	logger := s.logger.WithField("job", job.Name())
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("PANIC in maintenance job")
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()

	if err = job.Run(ctx); err != nil {
		logger.WithError(err).Error("Job failed")
		return err
	}
	logger.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("Job completed")
	return nil
}

// Start begins running scheduled jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
