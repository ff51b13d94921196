package audit

import (
	"context"
	"fmt"
	"time"
)

// Store is the read side of the audit trail, used by the audit handlers and
// the archive job
type Store interface {
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Cleanup deletes events recorded before cutoff and reports how many
	// were removed
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ Store = (*DBStore)(nil)

// DBStore reads the audit_logs table written by a DBLogger
type DBStore struct {
	logger *DBLogger
}

func NewDBStore(logger *DBLogger) *DBStore {
	return &DBStore{logger: logger}
}

func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	return s.logger.Search(ctx, filter)
}

// Export encodes every event matching filter. A zero Limit exports the
// whole range.
func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := s.logger.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit logs for export: %w", err)
	}
	return encodeEvents(events, format)
}

func (s *DBStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.logger.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

// CutoffFor is the oldest timestamp kept by policy at now
func CutoffFor(policy RetentionPolicy, now time.Time) time.Time {
	return now.AddDate(0, 0, -policy.RetentionDays)
}
