package iam

import (
	"github.com/google/uuid"
)

// SnapshotInput is everything the builder folds into a Snapshot
type SnapshotInput struct {
	RestaurantID uuid.UUID
	UserID       uuid.UUID
	PermVersion  int64
	Modules      []Module
	Submodules   []Submodule
	Features     []CatalogFeature
	Actions      []Action
	RoleGrants   []RoleGrant
	Overrides    []GrantView
	Entitlements []Entitlement
}

type decisionMap map[string]map[string]bool

func (m decisionMap) set(featureKey, actionKey string, allowed bool) {
	if m[featureKey] == nil {
		m[featureKey] = make(map[string]bool)
	}
	m[featureKey][actionKey] = allowed
}

func (m decisionMap) get(featureKey, actionKey string) (bool, bool) {
	actions, ok := m[featureKey]
	if !ok {
		return false, false
	}
	allowed, ok := actions[actionKey]
	return allowed, ok
}

// BuildSnapshot folds catalog, grants, overrides and entitlements into an
// effective-permission tree. It performs no I/O.
func BuildSnapshot(in SnapshotInput) *Snapshot {
	roles := make(decisionMap)
	for _, g := range in.RoleGrants {
		roles.set(g.FeatureKey, g.ActionKey, g.Allowed)
	}

	overrides := make(decisionMap)
	for _, o := range in.Overrides {
		overrides.set(o.FeatureKey, o.ActionKey, o.Allowed)
	}

	entitlements := make(map[EntityType]map[uuid.UUID]EntitlementStatus)
	for _, e := range in.Entitlements {
		if entitlements[e.EntityType] == nil {
			entitlements[e.EntityType] = make(map[uuid.UUID]EntitlementStatus)
		}
		entitlements[e.EntityType][e.EntityID] = e.Status
	}
	locks := func(t EntityType, id uuid.UUID) bool {
		return entitlements[t][id].Locks()
	}

	featuresBySubmodule := make(map[uuid.UUID][]Feature)
	for _, f := range in.Features {
		featuresBySubmodule[f.SubmoduleID] = append(featuresBySubmodule[f.SubmoduleID], f.Feature)
	}
	submodulesByModule := make(map[uuid.UUID][]Submodule)
	for _, sm := range in.Submodules {
		submodulesByModule[sm.ModuleID] = append(submodulesByModule[sm.ModuleID], sm)
	}

	snapshot := &Snapshot{
		RestaurantID: in.RestaurantID,
		UserID:       in.UserID,
		PermVersion:  in.PermVersion,
		Modules:      make([]ModuleNode, 0, len(in.Modules)),
	}

	for _, m := range in.Modules {
		moduleLocked := locks(EntityModule, m.ID)
		mn := ModuleNode{
			ID:                    m.ID,
			Key:                   m.Key,
			Name:                  m.Name,
			SortOrder:             m.SortOrder,
			IsLockedByEntitlement: moduleLocked,
			Submodules:            make([]SubmoduleNode, 0, len(submodulesByModule[m.ID])),
		}

		for _, sm := range submodulesByModule[m.ID] {
			submoduleLocked := moduleLocked || locks(EntitySubmodule, sm.ID)
			smn := SubmoduleNode{
				ID:                    sm.ID,
				Key:                   sm.Key,
				Name:                  sm.Name,
				SortOrder:             sm.SortOrder,
				IsLockedByEntitlement: submoduleLocked,
				Features:              make([]FeatureNode, 0, len(featuresBySubmodule[sm.ID])),
			}

			for _, f := range featuresBySubmodule[sm.ID] {
				featureLocked := submoduleLocked || locks(EntityFeature, f.ID)
				fn := FeatureNode{
					ID:                    f.ID,
					Key:                   f.Key,
					Name:                  f.Name,
					SortOrder:             f.SortOrder,
					IsLockedByEntitlement: featureLocked,
					Actions:               make([]ActionNode, 0, len(in.Actions)),
				}
				for _, a := range in.Actions {
					d := effectivePermission(f.Key, a.Key, roles, overrides, featureLocked)
					fn.Actions = append(fn.Actions, ActionNode{
						ID:      a.ID,
						Key:     a.Key,
						Allowed: d.Allowed,
						Locked:  d.Locked,
						Reason:  d.Reason,
					})
				}
				smn.Features = append(smn.Features, fn)
			}
			mn.Submodules = append(mn.Submodules, smn)
		}
		snapshot.Modules = append(snapshot.Modules, mn)
	}

	return snapshot
}

// effectivePermission applies entitlement lock > override > role > default deny
func effectivePermission(featureKey, actionKey string, roles, overrides decisionMap, locked bool) Decision {
	if locked {
		return Decision{Allowed: false, Locked: true, Reason: ReasonLocked}
	}

	d := Decision{Allowed: false, Reason: ReasonDefaultDenied}

	if allowed, ok := roles.get(featureKey, actionKey); ok {
		d.Allowed = allowed
		d.Reason = ReasonRoleDenied
		if allowed {
			d.Reason = ReasonRoleGranted
		}
	}

	if allowed, ok := overrides.get(featureKey, actionKey); ok {
		d.Allowed = allowed
		d.Reason = ReasonOverrideDenied
		if allowed {
			d.Reason = ReasonOverrideGranted
		}
	}

	return d
}
