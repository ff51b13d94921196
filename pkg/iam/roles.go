package iam

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/audit"
)

// CreateRole creates a role in a restaurant
func (s *Service) CreateRole(ctx context.Context, restaurantID uuid.UUID, key, name string, isSystem bool) (*Role, error) {
	key, name = strings.TrimSpace(key), strings.TrimSpace(name)
	if restaurantID == uuid.Nil || key == "" || name == "" {
		return nil, BadRequestf("restaurantId, key and name are required")
	}

	now := s.now().UTC()
	role := &Role{
		ID:           uuid.New(),
		RestaurantID: restaurantID,
		Key:          key,
		Name:         name,
		IsSystem:     isSystem,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repos.Roles.CreateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	if err := s.bumpAndEvict(ctx, restaurantID); err != nil {
		return nil, err
	}
	s.metrics.Mutation(string(audit.EventTypeRoleCreated), 1)
	s.record(ctx, audit.EventTypeRoleCreated, audit.ResourceTypeRole, role.ID.String(), restaurantID, map[string]interface{}{
		"key":      role.Key,
		"name":     role.Name,
		"isSystem": role.IsSystem,
	})

	return role, nil
}

// ListRoles returns the roles of a restaurant in creation order
func (s *Service) ListRoles(ctx context.Context, restaurantID uuid.UUID) ([]Role, error) {
	if restaurantID == uuid.Nil {
		return nil, BadRequestf("restaurantId is required")
	}
	roles, err := s.repos.Roles.ListRoles(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// ownedRole loads a role and checks it belongs to restaurantID
func (s *Service) ownedRole(ctx context.Context, id, restaurantID uuid.UUID) (*Role, error) {
	if id == uuid.Nil {
		return nil, BadRequestf("roleId is required")
	}
	role, err := s.repos.Roles.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.RestaurantID != restaurantID {
		return nil, Forbiddenf("Role does not belong to this restaurant")
	}
	return role, nil
}

// UpdateRole renames a role
func (s *Service) UpdateRole(ctx context.Context, id, restaurantID uuid.UUID, name string) (*Role, error) {
	name = strings.TrimSpace(name)
	if restaurantID == uuid.Nil {
		return nil, BadRequestf("restaurantId is required")
	}
	if name == "" {
		return nil, BadRequestf("name is required")
	}

	role, err := s.ownedRole(ctx, id, restaurantID)
	if err != nil {
		return nil, err
	}

	oldName := role.Name
	role.Name = name
	role.UpdatedAt = s.now().UTC()
	if err := s.repos.Roles.UpdateRoleName(ctx, id, name, role.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	if err := s.bumpAndEvict(ctx, restaurantID); err != nil {
		return nil, err
	}
	s.metrics.Mutation(string(audit.EventTypeRoleUpdated), 1)
	s.record(ctx, audit.EventTypeRoleUpdated, audit.ResourceTypeRole, id.String(), restaurantID, map[string]interface{}{
		"oldName": oldName,
		"newName": name,
	})

	return role, nil
}

// DeleteRole deletes a role together with its permissions and assignments
func (s *Service) DeleteRole(ctx context.Context, id, restaurantID uuid.UUID) error {
	if restaurantID == uuid.Nil {
		return BadRequestf("restaurantId is required")
	}

	role, err := s.ownedRole(ctx, id, restaurantID)
	if err != nil {
		return err
	}

	if err := s.repos.Roles.DeleteRole(ctx, id); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	if err := s.bumpAndEvict(ctx, restaurantID); err != nil {
		return err
	}
	s.metrics.Mutation(string(audit.EventTypeRoleDeleted), 1)
	s.record(ctx, audit.EventTypeRoleDeleted, audit.ResourceTypeRole, id.String(), restaurantID, map[string]interface{}{
		"key":  role.Key,
		"name": role.Name,
	})

	return nil
}

// SetRolePermissions replaces the role's whole permission set
func (s *Service) SetRolePermissions(ctx context.Context, roleID, restaurantID uuid.UUID, grants []Grant) error {
	if restaurantID == uuid.Nil {
		return BadRequestf("restaurantId is required")
	}

	if _, err := s.ownedRole(ctx, roleID, restaurantID); err != nil {
		return err
	}

	grants, err := s.validateGrants(ctx, grants)
	if err != nil {
		return err
	}

	if err := s.repos.Roles.ReplaceRolePermissions(ctx, roleID, grants); err != nil {
		return fmt.Errorf("failed to set role permissions: %w", err)
	}

	if err := s.bumpAndEvict(ctx, restaurantID); err != nil {
		return err
	}
	s.metrics.Mutation(string(audit.EventTypeRolePermissionsUpdated), 1)
	s.record(ctx, audit.EventTypeRolePermissionsUpdated, audit.ResourceTypeRole, roleID.String(), restaurantID, map[string]interface{}{
		"permissions": grants,
	})

	return nil
}

// GetRolePermissions returns the role's grants joined with catalog keys.
// A non-nil restaurantID restricts the lookup to roles of that restaurant.
func (s *Service) GetRolePermissions(ctx context.Context, roleID, restaurantID uuid.UUID) ([]GrantView, error) {
	if roleID == uuid.Nil {
		return nil, BadRequestf("roleId is required")
	}
	role, err := s.repos.Roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if restaurantID != uuid.Nil && role.RestaurantID != restaurantID {
		return nil, Forbiddenf("Role does not belong to this restaurant")
	}

	grants, err := s.repos.Roles.ListRolePermissions(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	return grants, nil
}

// AssignUserRole grants a role to a user. Assigning a role twice is a no-op
// write but still bumps the version.
func (s *Service) AssignUserRole(ctx context.Context, userID, restaurantID, roleID uuid.UUID) error {
	if userID == uuid.Nil || restaurantID == uuid.Nil || roleID == uuid.Nil {
		return BadRequestf("userId, restaurantId and roleId are required")
	}

	if _, err := s.ownedRole(ctx, roleID, restaurantID); err != nil {
		return err
	}

	ur := UserRole{UserID: userID, RestaurantID: restaurantID, RoleID: roleID}
	if err := s.repos.Roles.AssignUserRole(ctx, ur); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}

	if err := s.bumpAndEvict(ctx, restaurantID); err != nil {
		return err
	}
	s.metrics.Mutation(string(audit.EventTypeUserRoleAssigned), 1)
	s.record(ctx, audit.EventTypeUserRoleAssigned, audit.ResourceTypeUserRole, userID.String(), restaurantID, map[string]interface{}{
		"userId": userID,
		"roleId": roleID,
	})

	return nil
}

// RemoveUserRole unlinks a role from a user
func (s *Service) RemoveUserRole(ctx context.Context, userID, restaurantID, roleID uuid.UUID) error {
	if userID == uuid.Nil || restaurantID == uuid.Nil || roleID == uuid.Nil {
		return BadRequestf("userId, restaurantId and roleId are required")
	}

	ur := UserRole{UserID: userID, RestaurantID: restaurantID, RoleID: roleID}
	removed, err := s.repos.Roles.RemoveUserRole(ctx, ur)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}

	if err := s.bumpAndEvict(ctx, restaurantID); err != nil {
		return err
	}
	s.metrics.Mutation(string(audit.EventTypeUserRoleRemoved), 1)
	s.record(ctx, audit.EventTypeUserRoleRemoved, audit.ResourceTypeUserRole, userID.String(), restaurantID, map[string]interface{}{
		"userId":  userID,
		"roleId":  roleID,
		"removed": removed,
	})

	return nil
}

// validateGrants checks every grant against the catalog and collapses
// duplicate feature x action pairs, keeping the last occurrence. It fails on
// the first unknown id.
func (s *Service) validateGrants(ctx context.Context, grants []Grant) ([]Grant, error) {
	features := make(map[uuid.UUID]bool)
	actions := make(map[int64]bool)

	type pair struct {
		feature uuid.UUID
		action  int64
	}
	index := make(map[pair]int, len(grants))
	out := make([]Grant, 0, len(grants))

	for _, g := range grants {
		if g.FeatureID == uuid.Nil {
			return nil, BadRequestf("featureId is required")
		}

		ok, seen := features[g.FeatureID]
		if !seen {
			exists, err := s.repos.Catalog.FeatureExists(ctx, g.FeatureID)
			if err != nil {
				return nil, fmt.Errorf("failed to validate feature: %w", err)
			}
			features[g.FeatureID], ok = exists, exists
		}
		if !ok {
			return nil, BadRequestf("Invalid featureId: %s", g.FeatureID)
		}

		ok, seen = actions[g.ActionID]
		if !seen {
			exists, err := s.repos.Catalog.ActionExists(ctx, g.ActionID)
			if err != nil {
				return nil, fmt.Errorf("failed to validate action: %w", err)
			}
			actions[g.ActionID], ok = exists, exists
		}
		if !ok {
			return nil, BadRequestf("Invalid actionId: %d", g.ActionID)
		}

		k := pair{g.FeatureID, g.ActionID}
		if i, dup := index[k]; dup {
			out[i] = g
			continue
		}
		index[k] = len(out)
		out = append(out, g)
	}

	return out, nil
}
