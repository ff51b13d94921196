package iam

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CatalogRepo reads the capability catalog
type CatalogRepo interface {
	// ListModules returns modules ordered by sort order
	ListModules(ctx context.Context) ([]Module, error)

	// ListSubmodules returns submodules ordered by sort order
	ListSubmodules(ctx context.Context) ([]Submodule, error)

	// ListFeatures returns features joined with their parents, ordered by
	// (module sort order, submodule sort order, feature sort order)
	ListFeatures(ctx context.Context) ([]CatalogFeature, error)

	// ListActions returns actions ordered by id
	ListActions(ctx context.Context) ([]Action, error)

	FeatureExists(ctx context.Context, id uuid.UUID) (bool, error)
	ActionExists(ctx context.Context, id int64) (bool, error)

	// EntityExists looks the id up in the catalog table for entityType
	EntityExists(ctx context.Context, entityType EntityType, id uuid.UUID) (bool, error)
}

// CatalogWriter upserts catalog entries by key and returns their ids
type CatalogWriter interface {
	UpsertModule(ctx context.Context, m *Module) error
	UpsertSubmodule(ctx context.Context, sm *Submodule) error
	UpsertFeature(ctx context.Context, f *Feature) error
	UpsertAction(ctx context.Context, a *Action) error
}

// RoleRepo persists roles, role permissions and user role assignments
type RoleRepo interface {
	CreateRole(ctx context.Context, role *Role) error

	// GetRole returns a NotFound error when the role is absent
	GetRole(ctx context.Context, id uuid.UUID) (*Role, error)
	ListRoles(ctx context.Context, restaurantID uuid.UUID) ([]Role, error)
	UpdateRoleName(ctx context.Context, id uuid.UUID, name string, updatedAt time.Time) error
	DeleteRole(ctx context.Context, id uuid.UUID) error

	// ReplaceRolePermissions deletes every permission of the role and inserts
	// grants in one transaction
	ReplaceRolePermissions(ctx context.Context, roleID uuid.UUID, grants []Grant) error
	ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]GrantView, error)

	AssignUserRole(ctx context.Context, ur UserRole) error
	RemoveUserRole(ctx context.Context, ur UserRole) (bool, error)

	// ListUserRoleGrants returns every permission of every role the user holds
	// in the restaurant, ordered by role creation time then role id. Later
	// rows win when roles disagree.
	ListUserRoleGrants(ctx context.Context, restaurantID, userID uuid.UUID) ([]RoleGrant, error)
}

// OverrideRepo persists per-user permission overrides
type OverrideRepo interface {
	ListOverrides(ctx context.Context, restaurantID, userID uuid.UUID) ([]GrantView, error)

	// ReplaceOverrides deletes the user's overrides in the restaurant and
	// inserts grants in one transaction
	ReplaceOverrides(ctx context.Context, restaurantID, userID uuid.UUID, grants []Grant) error
	DeleteOverride(ctx context.Context, restaurantID, userID, featureID uuid.UUID, actionID int64) (bool, error)
}

// EntitlementRepo persists restaurant entitlements
type EntitlementRepo interface {
	ListEntitlements(ctx context.Context, restaurantID uuid.UUID) ([]Entitlement, error)

	// UpsertEntitlements writes every entry in one transaction. Nothing is
	// written if any entry fails.
	UpsertEntitlements(ctx context.Context, entries []Entitlement) (UpsertResult, error)

	// DeleteEntitlement removes matching rows; uuid.Nil restaurantID matches
	// every restaurant. Returns the restaurants whose row was deleted.
	DeleteEntitlement(ctx context.Context, restaurantID uuid.UUID, entityType EntityType, entityID uuid.UUID) ([]uuid.UUID, error)

	// ListTrialEntitlements returns every entitlement in trial status
	ListTrialEntitlements(ctx context.Context) ([]Entitlement, error)

	// LockTrials writes each entry in one transaction, but only over a row
	// still in trial status. Returns the rows actually written.
	LockTrials(ctx context.Context, entries []Entitlement) ([]EntitlementRef, error)
}

// TenantRepo owns the per-restaurant permission version
type TenantRepo interface {
	// PermVersion returns 0 for a restaurant nothing was written for yet
	PermVersion(ctx context.Context, restaurantID uuid.UUID) (int64, error)
	// BumpPermVersion provisions an unknown restaurant
	BumpPermVersion(ctx context.Context, restaurantID uuid.UUID) (int64, error)
}

// Repositories groups the repositories the service depends on
type Repositories struct {
	Catalog      CatalogRepo
	Roles        RoleRepo
	Overrides    OverrideRepo
	Entitlements EntitlementRepo
	Tenants      TenantRepo
}

// Cache stores serialized snapshots
type Cache interface {
	// Get returns nil, nil on a miss
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}
