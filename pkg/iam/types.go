package iam

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Module is a top-level capability group
type Module struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sortOrder"`
}

// Submodule is owned by exactly one Module
type Submodule struct {
	ID        uuid.UUID `json:"id"`
	ModuleID  uuid.UUID `json:"moduleId"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sortOrder"`
}

// Feature is owned by exactly one Submodule. Key is globally unique and is
// what permission checks address.
type Feature struct {
	ID          uuid.UUID `json:"id"`
	SubmoduleID uuid.UUID `json:"submoduleId"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	SortOrder   int       `json:"sortOrder"`
}

// CatalogFeature is a Feature joined with its parents
type CatalogFeature struct {
	Feature
	Submodule Submodule `json:"submodule"`
	Module    Module    `json:"module"`
}

// Action is a global verb evaluated against every Feature
type Action struct {
	ID  int64  `json:"id"`
	Key string `json:"key"`
}

// Role is a named bundle of grants scoped to one restaurant
type Role struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurantId"`
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	IsSystem     bool      `json:"isSystem"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Grant is one feature x action decision, used for both role permissions
// and user overrides.
type Grant struct {
	FeatureID uuid.UUID `json:"featureId"`
	ActionID  int64     `json:"actionId"`
	Allowed   bool      `json:"allowed"`
}

// GrantView is a Grant joined with catalog keys for display
type GrantView struct {
	Grant
	FeatureKey  string `json:"featureKey"`
	FeatureName string `json:"featureName"`
	ActionKey   string `json:"actionKey"`
}

// RoleGrant is a role permission as seen by the snapshot builder
type RoleGrant struct {
	RoleID     uuid.UUID `json:"roleId"`
	FeatureKey string    `json:"featureKey"`
	ActionKey  string    `json:"actionKey"`
	Allowed    bool      `json:"allowed"`
}

// UserRole links a user to a role within a restaurant
type UserRole struct {
	UserID       uuid.UUID `json:"userId"`
	RestaurantID uuid.UUID `json:"restaurantId"`
	RoleID       uuid.UUID `json:"roleId"`
}

// EntityType is the catalog level an entitlement targets
type EntityType string

const (
	EntityModule    EntityType = "module"
	EntitySubmodule EntityType = "submodule"
	EntityFeature   EntityType = "feature"
)

// EntityTypes lists every valid EntityType
func EntityTypes() []EntityType {
	return []EntityType{EntityModule, EntitySubmodule, EntityFeature}
}

// Valid reports whether t is one of the known entity types
func (t EntityType) Valid() bool {
	switch t {
	case EntityModule, EntitySubmodule, EntityFeature:
		return true
	}
	return false
}

// ParseEntityType parses a wire value into an EntityType
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", BadRequestf("Invalid entityType: %s", s)
	}
	return t, nil
}

// UnmarshalJSON rejects unknown entity types at the boundary
func (t *EntityType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEntityType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// EntitlementStatus is the subscription state of a catalog entity
type EntitlementStatus string

const (
	StatusActive EntitlementStatus = "active"
	StatusLocked EntitlementStatus = "locked"
	StatusHidden EntitlementStatus = "hidden"
	StatusTrial  EntitlementStatus = "trial"
)

// Valid reports whether s is a known status
func (s EntitlementStatus) Valid() bool {
	switch s {
	case StatusActive, StatusLocked, StatusHidden, StatusTrial:
		return true
	}
	return false
}

// Locks reports whether the status removes access to the entity and its
// descendants.
func (s EntitlementStatus) Locks() bool {
	return s == StatusLocked || s == StatusHidden
}

// Entitlement gates part of the catalog for a restaurant
type Entitlement struct {
	RestaurantID uuid.UUID              `json:"restaurantId"`
	EntityType   EntityType             `json:"entityType"`
	EntityID     uuid.UUID              `json:"entityId"`
	Status       EntitlementStatus      `json:"status"`
	Source       string                 `json:"source,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// TrialMetadataKey is the metadata field holding a trial's end time (RFC 3339)
const TrialMetadataKey = "trialEndsAt"

// TrialEndsAt returns the trial end time, if the entitlement carries one
func (e Entitlement) TrialEndsAt() (time.Time, bool) {
	raw, ok := e.Metadata[TrialMetadataKey].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// EntitlementRef identifies one entitlement row
type EntitlementRef struct {
	RestaurantID uuid.UUID  `json:"restaurantId"`
	EntityType   EntityType `json:"entityType"`
	EntityID     uuid.UUID  `json:"entityId"`
}

func (r EntitlementRef) String() string {
	return fmt.Sprintf("%s:%s", r.EntityType, r.EntityID)
}

// UpsertResult reports what an entitlement upsert changed
type UpsertResult struct {
	Created int `json:"createdCount"`
	Updated int `json:"updatedCount"`
	// Tenants lists every restaurant with at least one changed row
	Tenants []uuid.UUID `json:"-"`
}

// Changed reports whether any row was written
func (r UpsertResult) Changed() bool {
	return r.Created > 0 || r.Updated > 0
}

// Snapshot is the effective-permission tree for one user in one restaurant
type Snapshot struct {
	RestaurantID uuid.UUID    `json:"restaurantId"`
	UserID       uuid.UUID    `json:"userId"`
	PermVersion  int64        `json:"permVersion"`
	Modules      []ModuleNode `json:"modules"`
}

// ModuleNode is a module in a Snapshot
type ModuleNode struct {
	ID                    uuid.UUID       `json:"id"`
	Key                   string          `json:"key"`
	Name                  string          `json:"name"`
	SortOrder             int             `json:"sortOrder"`
	IsLockedByEntitlement bool            `json:"isLockedByEntitlement"`
	Submodules            []SubmoduleNode `json:"submodules"`
}

// SubmoduleNode is a submodule in a Snapshot
type SubmoduleNode struct {
	ID                    uuid.UUID     `json:"id"`
	Key                   string        `json:"key"`
	Name                  string        `json:"name"`
	SortOrder             int           `json:"sortOrder"`
	IsLockedByEntitlement bool          `json:"isLockedByEntitlement"`
	Features              []FeatureNode `json:"features"`
}

// FeatureNode is a feature in a Snapshot
type FeatureNode struct {
	ID                    uuid.UUID    `json:"id"`
	Key                   string       `json:"key"`
	Name                  string       `json:"name"`
	SortOrder             int          `json:"sortOrder"`
	IsLockedByEntitlement bool         `json:"isLockedByEntitlement"`
	Actions               []ActionNode `json:"actions"`
}

// ActionNode is the effective permission for one feature x action
type ActionNode struct {
	ID      int64  `json:"id"`
	Key     string `json:"key"`
	Allowed bool   `json:"allowed"`
	Locked  bool   `json:"locked"`
	Reason  string `json:"reason"`
}

// Find locates the decision for featureKey x actionKey
func (s *Snapshot) Find(featureKey, actionKey string) (ActionNode, bool) {
	if s == nil {
		return ActionNode{}, false
	}
	for _, m := range s.Modules {
		for _, sm := range m.Submodules {
			for _, f := range sm.Features {
				if f.Key != featureKey {
					continue
				}
				for _, a := range f.Actions {
					if a.Key == actionKey {
						return a, true
					}
				}
				return ActionNode{}, false
			}
		}
	}
	return ActionNode{}, false
}

// Decision is the answer to a permission check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Locked  bool   `json:"locked"`
	Reason  string `json:"reason"`
}

// Decision reasons
const (
	ReasonLocked          = "Feature locked by entitlement"
	ReasonDefaultDenied   = "Default denied"
	ReasonRoleGranted     = "Granted by role"
	ReasonRoleDenied      = "Denied by role"
	ReasonOverrideGranted = "Granted by override"
	ReasonOverrideDenied  = "Denied by override"
	ReasonSuperadmin      = "Superadmin access"
	ReasonNotFound        = "Permission not found or denied by default"
)
