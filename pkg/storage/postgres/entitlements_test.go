package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitlements_UpsertCounts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCatalog(t, s)
	restaurant := addRestaurant(t, s)

	entries := []iam.Entitlement{
		{RestaurantID: restaurant, EntityType: iam.EntityModule, EntityID: c.module.ID, Status: iam.StatusActive, Source: "billing"},
		{RestaurantID: restaurant, EntityType: iam.EntityFeature, EntityID: c.sms.ID, Status: iam.StatusTrial,
			Metadata: map[string]interface{}{"trialEndsAt": "2024-04-01T00:00:00Z", "plan": "pro"}},
	}

	result, err := s.UpsertEntitlements(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Zero(t, result.Updated)
	assert.Equal(t, []uuid.UUID{restaurant}, result.Tenants)

	// Identical rows are not rewritten
	result, err = s.UpsertEntitlements(ctx, entries)
	require.NoError(t, err)
	assert.False(t, result.Changed())
	assert.Empty(t, result.Tenants)

	entries[1].Status = iam.StatusLocked
	result, err = s.UpsertEntitlements(ctx, entries)
	require.NoError(t, err)
	assert.Zero(t, result.Created)
	assert.Equal(t, 1, result.Updated)

	listed, err := s.ListEntitlements(ctx, restaurant)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, iam.EntityFeature, listed[0].EntityType)
	assert.Equal(t, iam.StatusLocked, listed[0].Status)
	assert.Equal(t, "pro", listed[0].Metadata["plan"])
	assert.True(t, listed[0].UpdatedAt.After(listed[0].CreatedAt))
	assert.Equal(t, iam.EntityModule, listed[1].EntityType)
	assert.Equal(t, "billing", listed[1].Source)
	assert.Nil(t, listed[1].Metadata)
}

func TestEntitlements_MetadataChangeCountsAsUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCatalog(t, s)
	restaurant := addRestaurant(t, s)

	entry := iam.Entitlement{RestaurantID: restaurant, EntityType: iam.EntityModule, EntityID: c.module.ID, Status: iam.StatusActive}
	_, err := s.UpsertEntitlements(ctx, []iam.Entitlement{entry})
	require.NoError(t, err)

	// Empty and missing metadata are the same
	entry.Metadata = map[string]interface{}{}
	result, err := s.UpsertEntitlements(ctx, []iam.Entitlement{entry})
	require.NoError(t, err)
	assert.False(t, result.Changed())

	entry.Metadata = map[string]interface{}{"seats": 3}
	result, err = s.UpsertEntitlements(ctx, []iam.Entitlement{entry})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
}

func TestEntitlements_UpsertProvisionsRestaurant(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCatalog(t, s)
	restaurant := uuid.New()

	result, err := s.UpsertEntitlements(ctx, []iam.Entitlement{
		{RestaurantID: restaurant, EntityType: iam.EntityModule, EntityID: c.module.ID, Status: iam.StatusLocked},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, []uuid.UUID{restaurant}, result.Tenants)

	listed, err := s.ListEntitlements(ctx, restaurant)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	v, err := s.PermVersion(ctx, restaurant)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestEntitlements_DeleteAcrossRestaurants(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCatalog(t, s)
	a, b, untouched := addRestaurant(t, s), addRestaurant(t, s), addRestaurant(t, s)

	var entries []iam.Entitlement
	for _, r := range []uuid.UUID{a, b} {
		entries = append(entries, iam.Entitlement{RestaurantID: r, EntityType: iam.EntityFeature, EntityID: c.email.ID, Status: iam.StatusLocked})
	}
	entries = append(entries, iam.Entitlement{RestaurantID: untouched, EntityType: iam.EntityFeature, EntityID: c.sms.ID, Status: iam.StatusLocked})
	_, err := s.UpsertEntitlements(ctx, entries)
	require.NoError(t, err)

	tenants, err := s.DeleteEntitlement(ctx, a, iam.EntityFeature, c.email.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a}, tenants)

	_, err = s.UpsertEntitlements(ctx, entries[:1])
	require.NoError(t, err)

	tenants, err = s.DeleteEntitlement(ctx, uuid.Nil, iam.EntityFeature, c.email.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, tenants)

	tenants, err = s.DeleteEntitlement(ctx, uuid.Nil, iam.EntityFeature, c.email.ID)
	require.NoError(t, err)
	assert.Empty(t, tenants)

	remaining, err := s.ListEntitlements(ctx, untouched)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestEntitlements_ListTrials(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCatalog(t, s)
	restaurant := addRestaurant(t, s)

	_, err := s.UpsertEntitlements(ctx, []iam.Entitlement{
		{RestaurantID: restaurant, EntityType: iam.EntityModule, EntityID: c.module.ID, Status: iam.StatusActive},
		{RestaurantID: restaurant, EntityType: iam.EntityFeature, EntityID: c.sms.ID, Status: iam.StatusTrial,
			Metadata: map[string]interface{}{iam.TrialMetadataKey: "2024-04-01T00:00:00Z"}},
	})
	require.NoError(t, err)

	trials, err := s.ListTrialEntitlements(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, c.sms.ID, trials[0].EntityID)

	ends, ok := trials[0].TrialEndsAt()
	require.True(t, ok)
	assert.Equal(t, 2024, ends.Year())
}

func TestEntitlements_LockTrialsSkipsRowsThatLeftTrial(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCatalog(t, s)
	restaurant := addRestaurant(t, s)

	_, err := s.UpsertEntitlements(ctx, []iam.Entitlement{
		{RestaurantID: restaurant, EntityType: iam.EntityFeature, EntityID: c.email.ID, Status: iam.StatusTrial},
		{RestaurantID: restaurant, EntityType: iam.EntityFeature, EntityID: c.sms.ID, Status: iam.StatusTrial},
	})
	require.NoError(t, err)
	trials, err := s.ListTrialEntitlements(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 2)

	// An admin activates sms between the scan and the lock
	_, err = s.UpsertEntitlements(ctx, []iam.Entitlement{
		{RestaurantID: restaurant, EntityType: iam.EntityFeature, EntityID: c.sms.ID, Status: iam.StatusActive},
	})
	require.NoError(t, err)

	for i := range trials {
		trials[i].Status = iam.StatusLocked
	}
	locked, err := s.LockTrials(ctx, trials)
	require.NoError(t, err)
	require.Len(t, locked, 1)
	assert.Equal(t, c.email.ID, locked[0].EntityID)

	stored, err := s.ListEntitlements(ctx, restaurant)
	require.NoError(t, err)
	statuses := make(map[uuid.UUID]iam.EntitlementStatus)
	for _, e := range stored {
		statuses[e.EntityID] = e.Status
	}
	assert.Equal(t, iam.StatusLocked, statuses[c.email.ID])
	assert.Equal(t, iam.StatusActive, statuses[c.sms.ID])
}
