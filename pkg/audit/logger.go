package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NewEvent creates an event stamped with the current time and the request id
// carried by ctx
func NewEvent(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string) *AuditEvent {
	return &AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    contextkeys.GetRequestID(ctx),
		Payload:      make(map[string]interface{}),
	}
}

// WithActor sets the acting user; uuid.Nil leaves the event system-initiated
func (e *AuditEvent) WithActor(userID uuid.UUID) *AuditEvent {
	if userID != uuid.Nil {
		id := userID
		e.ActorUserID = &id
	}
	return e
}

// WithRestaurant sets the tenant the event belongs to
func (e *AuditEvent) WithRestaurant(restaurantID uuid.UUID) *AuditEvent {
	if restaurantID != uuid.Nil {
		id := restaurantID
		e.RestaurantID = &id
	}
	return e
}

// NewNoOpLogger returns a logger that discards every event
func NewNoOpLogger() Logger {
	return &noOpLogger{}
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}
