package iam

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/audit"
)

const errBulkEntitlements = "Error bulk setting restaurant entitlements"

// GetRestaurantEntitlements returns every entitlement of a restaurant
func (s *Service) GetRestaurantEntitlements(ctx context.Context, restaurantID uuid.UUID) ([]Entitlement, error) {
	if restaurantID == uuid.Nil {
		return nil, BadRequestf("restaurantId is required")
	}
	entitlements, err := s.repos.Entitlements.ListEntitlements(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlements: %w", err)
	}
	return entitlements, nil
}

// SetRestaurantEntitlements upserts entitlements for one restaurant in a
// single transaction. Every entry is scoped to restaurantID.
func (s *Service) SetRestaurantEntitlements(ctx context.Context, restaurantID uuid.UUID, entries []Entitlement) (UpsertResult, error) {
	if restaurantID == uuid.Nil {
		return UpsertResult{}, BadRequestf("restaurantId is required")
	}

	scoped := make([]Entitlement, len(entries))
	for i, e := range entries {
		e.RestaurantID = restaurantID
		scoped[i] = e
	}

	result, err := s.upsertEntitlements(ctx, scoped)
	if err != nil {
		return UpsertResult{}, err
	}

	if result.Changed() {
		if err := s.bumpAndEvict(ctx, restaurantID); err != nil {
			return UpsertResult{}, err
		}
	}
	s.metrics.Mutation(string(audit.EventTypeEntitlementsSet), len(result.Tenants))
	s.record(ctx, audit.EventTypeEntitlementsSet, audit.ResourceTypeEntitlement, restaurantID.String(), restaurantID, map[string]interface{}{
		"entitlements": scoped,
		"createdCount": result.Created,
		"updatedCount": result.Updated,
	})

	return result, nil
}

// SetEntitlementsBulk upserts a batch of entitlements atomically. A nil
// restaurantID is accepted only from a superadmin, in which case each entry
// names its own restaurant; otherwise every entry is scoped to restaurantID.
func (s *Service) SetEntitlementsBulk(ctx context.Context, restaurantID uuid.UUID, entries []Entitlement, isSuperadmin bool) (UpsertResult, error) {
	if restaurantID == uuid.Nil && !isSuperadmin {
		return UpsertResult{}, BadRequestf("restaurantId is required")
	}

	scoped := make([]Entitlement, len(entries))
	for i, e := range entries {
		if restaurantID != uuid.Nil {
			e.RestaurantID = restaurantID
		}
		scoped[i] = e
	}

	result, err := s.upsertEntitlements(ctx, scoped)
	if err != nil {
		return UpsertResult{}, err
	}

	if err := s.bumpAll(ctx, result.Tenants); err != nil {
		return UpsertResult{}, err
	}
	s.metrics.Mutation(string(audit.EventTypeEntitlementsBulkSet), len(result.Tenants))
	s.record(ctx, audit.EventTypeEntitlementsBulkSet, audit.ResourceTypeEntitlement, "", restaurantID, map[string]interface{}{
		"entitlements": scoped,
		"createdCount": result.Created,
		"updatedCount": result.Updated,
		"restaurants":  result.Tenants,
		"isSuperadmin": isSuperadmin,
	})

	return result, nil
}

// upsertEntitlements validates the whole batch then writes it in one
// transaction. Any failure, validation included, is reported as an internal
// error wrapping the cause and leaves storage untouched.
func (s *Service) upsertEntitlements(ctx context.Context, entries []Entitlement) (UpsertResult, error) {
	now := s.now().UTC()
	for i := range entries {
		if err := s.validateEntitlement(ctx, &entries[i], now); err != nil {
			return UpsertResult{}, Internal(errBulkEntitlements, err)
		}
	}

	result, err := s.repos.Entitlements.UpsertEntitlements(ctx, entries)
	if err != nil {
		return UpsertResult{}, Internal(errBulkEntitlements, err)
	}
	return result, nil
}

func (s *Service) validateEntitlement(ctx context.Context, e *Entitlement, now time.Time) error {
	if e.RestaurantID == uuid.Nil {
		return BadRequestf("restaurantId is required for every entitlement")
	}
	if !e.EntityType.Valid() {
		return BadRequestf("Invalid entityType: %s", e.EntityType)
	}
	if e.EntityID == uuid.Nil {
		return BadRequestf("entityId is required")
	}
	if e.Status == "" {
		e.Status = StatusActive
	}
	if !e.Status.Valid() {
		return BadRequestf("Invalid status: %s", e.Status)
	}
	if raw, ok := e.Metadata[TrialMetadataKey]; ok {
		if _, valid := e.TrialEndsAt(); !valid {
			return BadRequestf("Invalid %s: %v", TrialMetadataKey, raw)
		}
	}

	exists, err := s.repos.Catalog.EntityExists(ctx, e.EntityType, e.EntityID)
	if err != nil {
		return fmt.Errorf("failed to validate %s: %w", e.EntityType, err)
	}
	if !exists {
		return BadRequestf("Invalid %s id: %s", e.EntityType, e.EntityID)
	}

	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// RemoveEntitlement deletes one entitlement. A superadmin may pass a nil
// restaurantID to remove it from every restaurant. Only restaurants that
// actually lost a row are bumped.
func (s *Service) RemoveEntitlement(ctx context.Context, restaurantID uuid.UUID, entityType EntityType, entityID uuid.UUID, isSuperadmin bool) (int, error) {
	if restaurantID == uuid.Nil && !isSuperadmin {
		return 0, BadRequestf("restaurantId is required")
	}
	if !entityType.Valid() {
		return 0, BadRequestf("Invalid entityType: %s", entityType)
	}
	if entityID == uuid.Nil {
		return 0, BadRequestf("entityId is required")
	}

	tenants, err := s.repos.Entitlements.DeleteEntitlement(ctx, restaurantID, entityType, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove entitlement: %w", err)
	}

	if err := s.bumpAll(ctx, tenants); err != nil {
		return 0, err
	}
	s.metrics.Mutation(string(audit.EventTypeEntitlementRemoved), len(tenants))
	ref := EntitlementRef{RestaurantID: restaurantID, EntityType: entityType, EntityID: entityID}
	s.record(ctx, audit.EventTypeEntitlementRemoved, audit.ResourceTypeEntitlement, ref.String(), restaurantID, map[string]interface{}{
		"entityType":   entityType,
		"entityId":     entityID,
		"restaurants":  tenants,
		"deletedCount": len(tenants),
	})

	return len(tenants), nil
}
