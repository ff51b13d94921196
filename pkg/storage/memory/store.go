// Package memory provides an in-memory implementation of every IAM
// repository. It is intended for tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
)

// Compile-time interface checks.
var (
	_ iam.CatalogRepo     = (*Store)(nil)
	_ iam.CatalogWriter   = (*Store)(nil)
	_ iam.RoleRepo        = (*Store)(nil)
	_ iam.OverrideRepo    = (*Store)(nil)
	_ iam.EntitlementRepo = (*Store)(nil)
	_ iam.TenantRepo      = (*Store)(nil)
)

type grantKey struct {
	featureID uuid.UUID
	actionID  int64
}

type overrideKey struct {
	restaurantID uuid.UUID
	userID       uuid.UUID
}

type entitlementKey struct {
	restaurantID uuid.UUID
	entityType   iam.EntityType
	entityID     uuid.UUID
}

// Store is a thread-safe in-memory store for all IAM entities.
type Store struct {
	mu sync.RWMutex

	modules    map[uuid.UUID]iam.Module
	submodules map[uuid.UUID]iam.Submodule
	features   map[uuid.UUID]iam.Feature
	actions    map[int64]iam.Action

	roles           map[uuid.UUID]iam.Role
	rolePermissions map[uuid.UUID]map[grantKey]bool
	userRoles       map[iam.UserRole]struct{}
	overrides       map[overrideKey]map[grantKey]bool
	entitlements    map[entitlementKey]iam.Entitlement

	// permVersions doubles as the set of known restaurants
	permVersions map[uuid.UUID]int64
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		modules:         make(map[uuid.UUID]iam.Module),
		submodules:      make(map[uuid.UUID]iam.Submodule),
		features:        make(map[uuid.UUID]iam.Feature),
		actions:         make(map[int64]iam.Action),
		roles:           make(map[uuid.UUID]iam.Role),
		rolePermissions: make(map[uuid.UUID]map[grantKey]bool),
		userRoles:       make(map[iam.UserRole]struct{}),
		overrides:       make(map[overrideKey]map[grantKey]bool),
		entitlements:    make(map[entitlementKey]iam.Entitlement),
		permVersions:    make(map[uuid.UUID]int64),
	}
}

// Repositories exposes the store as every IAM repository
func (s *Store) Repositories() iam.Repositories {
	return iam.Repositories{
		Catalog:      s,
		Roles:        s,
		Overrides:    s,
		Entitlements: s,
		Tenants:      s,
	}
}

// HealthCheck is a no-op for the memory store.
func (s *Store) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Tenants
// ──────────────────────────────────────────────────

// ensureRestaurant provisions a tenant on first write; mu must be held
func (s *Store) ensureRestaurant(id uuid.UUID) {
	if _, ok := s.permVersions[id]; !ok {
		s.permVersions[id] = 0
	}
}

// PermVersion returns 0 for a restaurant that has never been written to
func (s *Store) PermVersion(_ context.Context, restaurantID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permVersions[restaurantID], nil
}

func (s *Store) BumpPermVersion(_ context.Context, restaurantID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.permVersions[restaurantID] + 1
	s.permVersions[restaurantID] = v
	return v, nil
}

// ──────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────

func (s *Store) ListModules(_ context.Context) ([]iam.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]iam.Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *Store) ListSubmodules(_ context.Context) ([]iam.Submodule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]iam.Submodule, 0, len(s.submodules))
	for _, sm := range s.submodules {
		out = append(out, sm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *Store) ListFeatures(_ context.Context) ([]iam.CatalogFeature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]iam.CatalogFeature, 0, len(s.features))
	for _, f := range s.features {
		sm := s.submodules[f.SubmoduleID]
		out = append(out, iam.CatalogFeature{
			Feature:   f,
			Submodule: sm,
			Module:    s.modules[sm.ModuleID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Module.SortOrder != b.Module.SortOrder {
			return a.Module.SortOrder < b.Module.SortOrder
		}
		if a.Submodule.SortOrder != b.Submodule.SortOrder {
			return a.Submodule.SortOrder < b.Submodule.SortOrder
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.Key < b.Key
	})
	return out, nil
}

func (s *Store) ListActions(_ context.Context) ([]iam.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]iam.Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FeatureExists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.features[id]
	return ok, nil
}

func (s *Store) ActionExists(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.actions[id]
	return ok, nil
}

func (s *Store) EntityExists(_ context.Context, entityType iam.EntityType, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ok bool
	switch entityType {
	case iam.EntityModule:
		_, ok = s.modules[id]
	case iam.EntitySubmodule:
		_, ok = s.submodules[id]
	case iam.EntityFeature:
		_, ok = s.features[id]
	default:
		return false, fmt.Errorf("unknown entity type %q", entityType)
	}
	return ok, nil
}

// UpsertModule matches on key; the existing id is kept and written back
func (s *Store) UpsertModule(_ context.Context, m *iam.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.modules {
		if existing.Key == m.Key {
			m.ID = id
			break
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.modules[m.ID] = *m
	return nil
}

func (s *Store) UpsertSubmodule(_ context.Context, sm *iam.Submodule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[sm.ModuleID]; !ok {
		return fmt.Errorf("module %s: %w", sm.ModuleID, iam.ErrNotFound)
	}
	for id, existing := range s.submodules {
		if existing.Key == sm.Key {
			sm.ID = id
			break
		}
	}
	if sm.ID == uuid.Nil {
		sm.ID = uuid.New()
	}
	s.submodules[sm.ID] = *sm
	return nil
}

func (s *Store) UpsertFeature(_ context.Context, f *iam.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submodules[f.SubmoduleID]; !ok {
		return fmt.Errorf("submodule %s: %w", f.SubmoduleID, iam.ErrNotFound)
	}
	for id, existing := range s.features {
		if existing.Key == f.Key {
			f.ID = id
			break
		}
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	s.features[f.ID] = *f
	return nil
}

// UpsertAction matches on key. A new action without an id gets the next
// free one.
func (s *Store) UpsertAction(_ context.Context, a *iam.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next int64
	for id, existing := range s.actions {
		if existing.Key == a.Key {
			a.ID = id
			s.actions[id] = *a
			return nil
		}
		if id > next {
			next = id
		}
	}
	if a.ID == 0 {
		a.ID = next + 1
	}
	if _, taken := s.actions[a.ID]; taken {
		return iam.BadRequestf("Action id %d already in use", a.ID)
	}
	s.actions[a.ID] = *a
	return nil
}

// ──────────────────────────────────────────────────
// Roles
// ──────────────────────────────────────────────────

func (s *Store) CreateRole(_ context.Context, role *iam.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.RestaurantID == role.RestaurantID && existing.Key == role.Key {
			return iam.BadRequestf("Role with key %q already exists", role.Key)
		}
	}
	s.ensureRestaurant(role.RestaurantID)
	s.roles[role.ID] = *role
	return nil
}

func (s *Store) GetRole(_ context.Context, id uuid.UUID) (*iam.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, iam.NotFoundf("Role not found")
	}
	return &role, nil
}

func (s *Store) ListRoles(_ context.Context, restaurantID uuid.UUID) ([]iam.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]iam.Role, 0)
	for _, r := range s.roles {
		if r.RestaurantID == restaurantID {
			out = append(out, r)
		}
	}
	sortRoles(out)
	return out, nil
}

// sortRoles orders by creation time then id, the tie-break order for
// conflicting grants
func sortRoles(roles []iam.Role) {
	sort.Slice(roles, func(i, j int) bool {
		if !roles[i].CreatedAt.Equal(roles[j].CreatedAt) {
			return roles[i].CreatedAt.Before(roles[j].CreatedAt)
		}
		return roles[i].ID.String() < roles[j].ID.String()
	})
}

func (s *Store) UpdateRoleName(_ context.Context, id uuid.UUID, name string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return iam.NotFoundf("Role not found")
	}
	role.Name = name
	role.UpdatedAt = updatedAt
	s.roles[id] = role
	return nil
}

func (s *Store) DeleteRole(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, id)
	delete(s.rolePermissions, id)
	for ur := range s.userRoles {
		if ur.RoleID == id {
			delete(s.userRoles, ur)
		}
	}
	return nil
}

func (s *Store) ReplaceRolePermissions(_ context.Context, roleID uuid.UUID, grants []iam.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return iam.NotFoundf("Role not found")
	}
	set, err := s.grantSet(grants)
	if err != nil {
		return err
	}
	s.rolePermissions[roleID] = set
	return nil
}

// grantSet checks foreign keys before anything is replaced. Callers hold mu.
func (s *Store) grantSet(grants []iam.Grant) (map[grantKey]bool, error) {
	set := make(map[grantKey]bool, len(grants))
	for _, g := range grants {
		if _, ok := s.features[g.FeatureID]; !ok {
			return nil, fmt.Errorf("feature %s: %w", g.FeatureID, iam.ErrNotFound)
		}
		if _, ok := s.actions[g.ActionID]; !ok {
			return nil, fmt.Errorf("action %d: %w", g.ActionID, iam.ErrNotFound)
		}
		set[grantKey{g.FeatureID, g.ActionID}] = g.Allowed
	}
	return set, nil
}

// views joins a grant set with catalog keys, ordered by feature key then
// action id. Callers hold mu.
func (s *Store) views(set map[grantKey]bool) []iam.GrantView {
	out := make([]iam.GrantView, 0, len(set))
	for k, allowed := range set {
		f := s.features[k.featureID]
		out = append(out, iam.GrantView{
			Grant:       iam.Grant{FeatureID: k.featureID, ActionID: k.actionID, Allowed: allowed},
			FeatureKey:  f.Key,
			FeatureName: f.Name,
			ActionKey:   s.actions[k.actionID].Key,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FeatureKey != out[j].FeatureKey {
			return out[i].FeatureKey < out[j].FeatureKey
		}
		return out[i].ActionID < out[j].ActionID
	})
	return out
}

func (s *Store) ListRolePermissions(_ context.Context, roleID uuid.UUID) ([]iam.GrantView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.views(s.rolePermissions[roleID]), nil
}

func (s *Store) AssignUserRole(_ context.Context, ur iam.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[ur.RoleID]; !ok {
		return iam.NotFoundf("Role not found")
	}
	s.userRoles[ur] = struct{}{}
	return nil
}

func (s *Store) RemoveUserRole(_ context.Context, ur iam.UserRole) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userRoles[ur]; !ok {
		return false, nil
	}
	delete(s.userRoles, ur)
	return true, nil
}

func (s *Store) ListUserRoleGrants(_ context.Context, restaurantID, userID uuid.UUID) ([]iam.RoleGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var roles []iam.Role
	for ur := range s.userRoles {
		if ur.UserID != userID || ur.RestaurantID != restaurantID {
			continue
		}
		if role, ok := s.roles[ur.RoleID]; ok && role.RestaurantID == restaurantID {
			roles = append(roles, role)
		}
	}
	sortRoles(roles)

	var out []iam.RoleGrant
	for _, role := range roles {
		for _, v := range s.views(s.rolePermissions[role.ID]) {
			out = append(out, iam.RoleGrant{
				RoleID:     role.ID,
				FeatureKey: v.FeatureKey,
				ActionKey:  v.ActionKey,
				Allowed:    v.Allowed,
			})
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Overrides
// ──────────────────────────────────────────────────

func (s *Store) ListOverrides(_ context.Context, restaurantID, userID uuid.UUID) ([]iam.GrantView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.views(s.overrides[overrideKey{restaurantID, userID}]), nil
}

func (s *Store) ReplaceOverrides(_ context.Context, restaurantID, userID uuid.UUID, grants []iam.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.grantSet(grants)
	if err != nil {
		return err
	}
	if len(set) > 0 {
		s.ensureRestaurant(restaurantID)
	}
	s.overrides[overrideKey{restaurantID, userID}] = set
	return nil
}

func (s *Store) DeleteOverride(_ context.Context, restaurantID, userID, featureID uuid.UUID, actionID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.overrides[overrideKey{restaurantID, userID}]
	k := grantKey{featureID, actionID}
	if _, ok := set[k]; !ok {
		return false, nil
	}
	delete(set, k)
	return true, nil
}

// ──────────────────────────────────────────────────
// Entitlements
// ──────────────────────────────────────────────────

func copyEntitlement(e iam.Entitlement) iam.Entitlement {
	if e.Metadata != nil {
		md := make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}

func sortEntitlements(out []iam.Entitlement) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RestaurantID != b.RestaurantID {
			return a.RestaurantID.String() < b.RestaurantID.String()
		}
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		return a.EntityID.String() < b.EntityID.String()
	})
}

func (s *Store) ListEntitlements(_ context.Context, restaurantID uuid.UUID) ([]iam.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]iam.Entitlement, 0)
	for k, e := range s.entitlements {
		if k.restaurantID == restaurantID {
			out = append(out, copyEntitlement(e))
		}
	}
	sortEntitlements(out)
	return out, nil
}

// sameMetadata compares metadata the way the JSONB column would
func sameMetadata(a, b map[string]interface{}) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

func (s *Store) UpsertEntitlements(_ context.Context, entries []iam.Entitlement) (iam.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.ensureRestaurant(e.RestaurantID)
	}

	var result iam.UpsertResult
	touched := make(map[uuid.UUID]bool)
	for _, e := range entries {
		k := entitlementKey{e.RestaurantID, e.EntityType, e.EntityID}
		existing, ok := s.entitlements[k]
		switch {
		case !ok:
			result.Created++
		case existing.Status != e.Status || existing.Source != e.Source || !sameMetadata(existing.Metadata, e.Metadata):
			e.CreatedAt = existing.CreatedAt
			result.Updated++
		default:
			continue
		}
		s.entitlements[k] = copyEntitlement(e)
		if !touched[e.RestaurantID] {
			touched[e.RestaurantID] = true
			result.Tenants = append(result.Tenants, e.RestaurantID)
		}
	}
	return result, nil
}

func (s *Store) DeleteEntitlement(_ context.Context, restaurantID uuid.UUID, entityType iam.EntityType, entityID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tenants []uuid.UUID
	for k := range s.entitlements {
		if k.entityType != entityType || k.entityID != entityID {
			continue
		}
		if restaurantID != uuid.Nil && k.restaurantID != restaurantID {
			continue
		}
		delete(s.entitlements, k)
		tenants = append(tenants, k.restaurantID)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].String() < tenants[j].String() })
	return tenants, nil
}

func (s *Store) LockTrials(_ context.Context, entries []iam.Entitlement) ([]iam.EntitlementRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var locked []iam.EntitlementRef
	for _, e := range entries {
		k := entitlementKey{e.RestaurantID, e.EntityType, e.EntityID}
		existing, ok := s.entitlements[k]
		if !ok || existing.Status != iam.StatusTrial {
			continue
		}
		e.CreatedAt = existing.CreatedAt
		s.entitlements[k] = copyEntitlement(e)
		locked = append(locked, iam.EntitlementRef{RestaurantID: e.RestaurantID, EntityType: e.EntityType, EntityID: e.EntityID})
	}
	return locked, nil
}

func (s *Store) ListTrialEntitlements(_ context.Context) ([]iam.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []iam.Entitlement
	for _, e := range s.entitlements {
		if e.Status == iam.StatusTrial {
			out = append(out, copyEntitlement(e))
		}
	}
	sortEntitlements(out)
	return out, nil
}
