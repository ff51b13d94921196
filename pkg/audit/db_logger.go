package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// auditSchema is applied by NewDBLogger so the audit sink works against a
// database the IAM migrations have not touched yet
const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id            BIGSERIAL PRIMARY KEY,
	timestamp     TIMESTAMPTZ NOT NULL,
	action        VARCHAR(64) NOT NULL,
	actor_user_id UUID,
	restaurant_id UUID,
	resource_type VARCHAR(64),
	resource_id   VARCHAR(255),
	request_id    VARCHAR(100),
	payload       JSONB
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_restaurant_ts ON audit_logs(restaurant_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
`

// DBLogger stores events in the audit_logs table
type DBLogger struct {
	db *sql.DB
}

func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: database connection is required")
	}
	if _, err := db.Exec(auditSchema); err != nil {
		return nil, fmt.Errorf("failed to create audit_logs table: %w", err)
	}
	return &DBLogger{db: db}, nil
}

// Log inserts event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var payload interface{}
	if event.Payload != nil {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", event.EventType, err)
		}
		payload = string(data)
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (timestamp, action, actor_user_id, restaurant_id,
			resource_type, resource_id, request_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		event.Timestamp, string(event.EventType), event.ActorUserID, event.RestaurantID,
		string(event.ResourceType), event.ResourceID, event.RequestID, payload,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log %s: %w", event.EventType, err)
	}
	return nil
}

// Search returns events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	var w where
	if filter.StartTime != nil {
		w.add("timestamp >=", *filter.StartTime)
	}
	if filter.EndTime != nil {
		w.add("timestamp <", *filter.EndTime)
	}
	if filter.ActorUserID != nil {
		w.add("actor_user_id =", *filter.ActorUserID)
	}
	if filter.RestaurantID != nil {
		w.add("restaurant_id =", *filter.RestaurantID)
	}
	if len(filter.EventTypes) > 0 {
		actions := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			actions[i] = string(et)
		}
		w.addf("action = ANY(%s)", pq.Array(actions))
	}
	if filter.ResourceType != "" {
		w.add("resource_type =", string(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		w.add("resource_id =", filter.ResourceID)
	}

	query := `
		SELECT id, timestamp, action, actor_user_id, restaurant_id,
			resource_type, resource_id, request_id, payload
		FROM audit_logs
		WHERE 1=1` + w.sql + " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + w.arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + w.arg(filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (*AuditEvent, error) {
	var (
		event                                   AuditEvent
		action, resourceType, resourceID, reqID sql.NullString
		payload                                 []byte
	)
	err := rows.Scan(&event.ID, &event.Timestamp, &action, &event.ActorUserID, &event.RestaurantID,
		&resourceType, &resourceID, &reqID, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	event.EventType = EventType(action.String)
	event.ResourceType = ResourceType(resourceType.String)
	event.ResourceID = resourceID.String
	event.RequestID = reqID.String
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of audit log %d: %w", event.ID, err)
		}
	}
	return &event, nil
}

// where accumulates " AND ..." conditions with numbered placeholders
type where struct {
	sql  string
	args []interface{}
}

func (w *where) arg(v interface{}) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(cond string, v interface{}) {
	w.sql += " AND " + cond + " " + w.arg(v)
}

func (w *where) addf(format string, v interface{}) {
	w.sql += " AND " + fmt.Sprintf(format, w.arg(v))
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
