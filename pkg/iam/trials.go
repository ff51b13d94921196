package iam

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/audit"
)

// ExpireTrials locks every trial entitlement whose trialEndsAt is not after
// now. Trials without an end date never expire. Returns the number locked.
func (s *Service) ExpireTrials(ctx context.Context, now time.Time) (int, error) {
	trials, err := s.repos.Entitlements.ListTrialEntitlements(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list trial entitlements: %w", err)
	}

	var expired []Entitlement
	for _, e := range trials {
		ends, ok := e.TrialEndsAt()
		if !ok || ends.After(now) {
			continue
		}

		metadata := make(map[string]interface{}, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			metadata[k] = v
		}
		metadata["trialExpiredAt"] = now.UTC().Format(time.RFC3339)

		e.Status = StatusLocked
		e.Metadata = metadata
		e.UpdatedAt = now.UTC()
		expired = append(expired, e)
	}

	if len(expired) == 0 {
		return 0, nil
	}

	// Rows that left trial since the scan are skipped by the store
	locked, err := s.repos.Entitlements.LockTrials(ctx, expired)
	if err != nil {
		return 0, fmt.Errorf("failed to lock expired trials: %w", err)
	}
	if len(locked) == 0 {
		return 0, nil
	}

	var tenants []uuid.UUID
	byTenant := make(map[uuid.UUID][]EntitlementRef)
	for _, ref := range locked {
		if _, ok := byTenant[ref.RestaurantID]; !ok {
			tenants = append(tenants, ref.RestaurantID)
		}
		byTenant[ref.RestaurantID] = append(byTenant[ref.RestaurantID], ref)
	}

	if err := s.bumpAll(ctx, tenants); err != nil {
		return 0, err
	}

	for _, tenant := range tenants {
		s.record(ctx, audit.EventTypeEntitlementTrialExpired, audit.ResourceTypeEntitlement, tenant.String(), tenant, map[string]interface{}{
			"entitlements": byTenant[tenant],
		})
	}
	s.metrics.Mutation(string(audit.EventTypeEntitlementTrialExpired), len(tenants))
	s.metrics.TrialsExpired(len(locked))

	s.logger.WithField("expired", len(locked)).
		WithField("restaurants", len(tenants)).
		Info("locked expired trial entitlements")

	return len(locked), nil
}
