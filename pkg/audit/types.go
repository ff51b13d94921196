package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType is the action code of an audit record
type EventType string

const (
	// Grant store
	EventTypeRoleCreated            EventType = "ROLE_CREATED"
	EventTypeRoleUpdated            EventType = "ROLE_UPDATED"
	EventTypeRoleDeleted            EventType = "ROLE_DELETED"
	EventTypeRolePermissionsUpdated EventType = "ROLE_PERMISSIONS_UPDATED"
	EventTypeUserRoleAssigned       EventType = "USER_ROLE_ASSIGNED"
	EventTypeUserRoleRemoved        EventType = "USER_ROLE_REMOVED"

	// Override store
	EventTypeUserOverridesUpdated EventType = "USER_OVERRIDES_UPDATED"
	EventTypeUserOverridesDeleted EventType = "USER_OVERRIDES_DELETED"

	// Entitlement store
	EventTypeEntitlementsSet         EventType = "ENTITLEMENTS_SET"
	EventTypeEntitlementsBulkSet     EventType = "ENTITLEMENTS_BULK_SET"
	EventTypeEntitlementRemoved      EventType = "ENTITLEMENT_REMOVED"
	EventTypeEntitlementTrialExpired EventType = "ENTITLEMENT_TRIAL_EXPIRED"

	// Catalog
	EventTypeCatalogChanged EventType = "CATALOG_CHANGED"
)

// ResourceType is the kind of entity an audit record targets
type ResourceType string

const (
	ResourceTypeRole        ResourceType = "role"
	ResourceTypeUserRole    ResourceType = "user_role"
	ResourceTypeOverride    ResourceType = "user_permission_override"
	ResourceTypeEntitlement ResourceType = "restaurant_entitlement"
	ResourceTypeCatalog     ResourceType = "catalog"
)

// AuditEvent is a single audit log entry
type AuditEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"action"`

	// Actor is nil for system-initiated changes (scheduled jobs, seeding)
	ActorUserID  *uuid.UUID `json:"actorUserId,omitempty"`
	RestaurantID *uuid.UUID `json:"restaurantId,omitempty"`

	ResourceType ResourceType `json:"resourceType,omitempty"`
	ResourceID   string       `json:"resourceId,omitempty"`
	RequestID    string       `json:"requestId,omitempty"`

	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// SearchFilter narrows audit log queries
type SearchFilter struct {
	StartTime    *time.Time
	EndTime      *time.Time
	ActorUserID  *uuid.UUID
	RestaurantID *uuid.UUID
	EventTypes   []EventType
	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}

// RetentionPolicy controls audit log cleanup
type RetentionPolicy struct {
	RetentionDays int
}

// ExportFormat is the encoding of exported audit events
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
)
