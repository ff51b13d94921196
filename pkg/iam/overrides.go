package iam

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/audit"
)

// GetUserPermissionOverrides returns a user's overrides in a restaurant
func (s *Service) GetUserPermissionOverrides(ctx context.Context, userID, restaurantID uuid.UUID) ([]GrantView, error) {
	if userID == uuid.Nil || restaurantID == uuid.Nil {
		return nil, BadRequestf("userId and restaurantId are required")
	}
	overrides, err := s.repos.Overrides.ListOverrides(ctx, restaurantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user overrides: %w", err)
	}
	return overrides, nil
}

// SetUserPermissionOverride replaces the user's whole override set in a
// restaurant
func (s *Service) SetUserPermissionOverride(ctx context.Context, userID, restaurantID uuid.UUID, overrides []Grant) error {
	if userID == uuid.Nil || restaurantID == uuid.Nil {
		return BadRequestf("userId and restaurantId are required")
	}

	overrides, err := s.validateGrants(ctx, overrides)
	if err != nil {
		return err
	}

	if err := s.repos.Overrides.ReplaceOverrides(ctx, restaurantID, userID, overrides); err != nil {
		return fmt.Errorf("failed to set user overrides: %w", err)
	}

	if err := s.bumpAndEvict(ctx, restaurantID); err != nil {
		return err
	}
	s.metrics.Mutation(string(audit.EventTypeUserOverridesUpdated), 1)
	s.record(ctx, audit.EventTypeUserOverridesUpdated, audit.ResourceTypeOverride, userID.String(), restaurantID, map[string]interface{}{
		"overrides": overrides,
	})

	return nil
}

// DeleteUserPermissionOverride removes one override
func (s *Service) DeleteUserPermissionOverride(ctx context.Context, userID, restaurantID, featureID uuid.UUID, actionID int64) error {
	if userID == uuid.Nil || restaurantID == uuid.Nil {
		return BadRequestf("userId and restaurantId are required")
	}
	if featureID == uuid.Nil || actionID == 0 {
		return BadRequestf("featureId and actionId are required")
	}

	deleted, err := s.repos.Overrides.DeleteOverride(ctx, restaurantID, userID, featureID, actionID)
	if err != nil {
		return fmt.Errorf("failed to delete user override: %w", err)
	}

	if err := s.bumpAndEvict(ctx, restaurantID); err != nil {
		return err
	}
	s.metrics.Mutation(string(audit.EventTypeUserOverridesDeleted), 1)
	s.record(ctx, audit.EventTypeUserOverridesDeleted, audit.ResourceTypeOverride, userID.String(), restaurantID, map[string]interface{}{
		"featureId": featureID,
		"actionId":  actionID,
		"deleted":   deleted,
	})

	return nil
}
