package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/restaurant-iam/pkg/audit"
	"github.com/platinummonkey/restaurant-iam/pkg/observability"
)

// Job is a unit of scheduled maintenance work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// TrialExpirer locks trial entitlements that have ended. *iam.Service
// implements it.
type TrialExpirer interface {
	ExpireTrials(ctx context.Context, now time.Time) (int, error)
}

// TrialExpiryJob locks every trial entitlement whose end date has passed
type TrialExpiryJob struct {
	expirer TrialExpirer
	logger  *observability.Logger
	now     func() time.Time
}

// NewTrialExpiryJob creates the trial expiry job
func NewTrialExpiryJob(expirer TrialExpirer, logger *observability.Logger) *TrialExpiryJob {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &TrialExpiryJob{expirer: expirer, logger: logger, now: time.Now}
}

func (j *TrialExpiryJob) Name() string { return "trial-expiry" }

func (j *TrialExpiryJob) Run(ctx context.Context) error {
	n, err := j.expirer.ExpireTrials(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to expire trials: %w", err)
	}
	if n > 0 {
		j.logger.WithField("expired", n).Info("Locked expired trial entitlements")
	}
	return nil
}

// Uploader stores an archive object. *s3.Archive implements it.
type Uploader interface {
	Key(t time.Time, name string) string
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// AuditArchiveJob exports audit records older than the retention window,
// uploads them and then deletes them. Without an uploader records are
// deleted without being archived.
type AuditArchiveJob struct {
	store    audit.Store
	uploader Uploader
	policy   audit.RetentionPolicy
	logger   *observability.Logger
	now      func() time.Time
}

// NewAuditArchiveJob creates the audit archive job
func NewAuditArchiveJob(store audit.Store, uploader Uploader, policy audit.RetentionPolicy, logger *observability.Logger) *AuditArchiveJob {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AuditArchiveJob{
		store:    store,
		uploader: uploader,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

func (j *AuditArchiveJob) Name() string { return "audit-archive" }

// Run leaves every record in place when the export or upload fails
func (j *AuditArchiveJob) Run(ctx context.Context) error {
	if j.policy.RetentionDays <= 0 {
		return nil
	}

	now := j.now().UTC()
	cutoff := audit.CutoffFor(j.policy, now)

	if j.uploader != nil {
		data, err := j.store.Export(ctx, audit.SearchFilter{EndTime: &cutoff}, audit.ExportFormatNDJSON)
		if err != nil {
			return fmt.Errorf("failed to export audit logs: %w", err)
		}

		if len(data) > 0 {
			key := j.uploader.Key(now, fmt.Sprintf("audit-before-%s.ndjson", cutoff.Format("20060102T150405Z")))
			if err := j.uploader.Put(ctx, key, data, "application/x-ndjson"); err != nil {
				return fmt.Errorf("failed to archive audit logs: %w", err)
			}
			j.logger.WithFields(map[string]interface{}{
				"key":   key,
				"bytes": len(data),
			}).Info("Archived audit logs")
		}
	}

	deleted, err := j.store.Cleanup(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up audit logs: %w", err)
	}
	j.logger.WithFields(map[string]interface{}{
		"deleted": deleted,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("Audit retention cleanup complete")

	return nil
}
