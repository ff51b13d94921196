//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("iam_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(Config{URL: connStr, MaxConns: 5, MinConns: 1, Timeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, RunMigrations(ctx, store.DB(), nil))
	return store
}

func TestPostgres_PermissionFlow(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()
	c := seedCatalog(t, s)
	restaurant := addRestaurant(t, s)
	user := uuid.New()

	svc := iam.NewService(s.Repositories(), nil)

	role, err := svc.CreateRole(ctx, restaurant, "marketer", "Marketer", false)
	require.NoError(t, err)
	require.NoError(t, svc.SetRolePermissions(ctx, role.ID, restaurant, []iam.Grant{
		{FeatureID: c.email.ID, ActionID: c.write.ID, Allowed: true},
	}))
	require.NoError(t, svc.AssignUserRole(ctx, user, restaurant, role.ID))

	decision, err := svc.CheckPermission(ctx, restaurant, user, "campaigns.email", "write", false)
	require.NoError(t, err)
	assert.Equal(t, iam.Decision{Allowed: true, Reason: iam.ReasonRoleGranted}, *decision)

	_, err = svc.SetRestaurantEntitlements(ctx, restaurant, []iam.Entitlement{
		{EntityType: iam.EntitySubmodule, EntityID: c.submodule.ID, Status: iam.StatusLocked},
	})
	require.NoError(t, err)

	decision, err = svc.CheckPermission(ctx, restaurant, user, "campaigns.email", "write", false)
	require.NoError(t, err)
	assert.Equal(t, iam.Decision{Allowed: false, Locked: true, Reason: iam.ReasonLocked}, *decision)

	version, err := s.PermVersion(ctx, restaurant)
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)
}

func TestPostgres_DuplicateRoleKey(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()
	restaurant := addRestaurant(t, s)

	require.NoError(t, s.CreateRole(ctx, newRole(restaurant, "staff")))
	err := s.CreateRole(ctx, newRole(restaurant, "staff"))
	assert.ErrorIs(t, err, iam.ErrBadRequest)

	// The constraint itself rejects a duplicate that slips past the lookup
	_, err = s.DB().ExecContext(ctx, `
		INSERT INTO iam_roles (id, restaurant_id, key, name, is_system, created_at, updated_at)
		VALUES ($1, $2, 'staff', 'Staff', FALSE, NOW(), NOW())
	`, uuid.New(), restaurant)
	assert.ErrorIs(t, constraintError(err, "create role"), iam.ErrBadRequest)
}

func TestPostgres_EntitlementMetadataRoundTrip(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()
	c := seedCatalog(t, s)
	restaurant := addRestaurant(t, s)

	entry := iam.Entitlement{
		RestaurantID: restaurant, EntityType: iam.EntityFeature, EntityID: c.sms.ID, Status: iam.StatusTrial,
		Metadata: map[string]interface{}{iam.TrialMetadataKey: "2024-04-01T00:00:00Z", "seats": 3},
	}
	_, err := s.UpsertEntitlements(ctx, []iam.Entitlement{entry})
	require.NoError(t, err)

	// JSONB reorders keys; the comparison must not see a change
	result, err := s.UpsertEntitlements(ctx, []iam.Entitlement{entry})
	require.NoError(t, err)
	assert.False(t, result.Changed())

	trials, err := s.ListTrialEntitlements(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, float64(3), trials[0].Metadata["seats"])
}
