package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestStore opens a migrated in-memory SQLite database. A single
// connection keeps every query on the same in-memory database.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=1")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db, nil))

	store := New(db)
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

type seeded struct {
	module    iam.Module
	submodule iam.Submodule
	email     iam.Feature
	sms       iam.Feature
	read      iam.Action
	write     iam.Action
}

func seedCatalog(t *testing.T, s *Store) seeded {
	t.Helper()
	ctx := context.Background()

	c := seeded{
		module: iam.Module{Key: "marketing", Name: "Marketing", SortOrder: 1},
		read:   iam.Action{ID: 1, Key: "read"},
		write:  iam.Action{ID: 2, Key: "write"},
	}
	require.NoError(t, s.UpsertModule(ctx, &c.module))

	c.submodule = iam.Submodule{ModuleID: c.module.ID, Key: "campaigns", Name: "Campaigns", SortOrder: 1}
	require.NoError(t, s.UpsertSubmodule(ctx, &c.submodule))

	c.email = iam.Feature{SubmoduleID: c.submodule.ID, Key: "campaigns.email", Name: "Email", SortOrder: 1}
	c.sms = iam.Feature{SubmoduleID: c.submodule.ID, Key: "campaigns.sms", Name: "SMS", SortOrder: 2}
	require.NoError(t, s.UpsertFeature(ctx, &c.email))
	require.NoError(t, s.UpsertFeature(ctx, &c.sms))

	require.NoError(t, s.UpsertAction(ctx, &c.read))
	require.NoError(t, s.UpsertAction(ctx, &c.write))
	return c
}

func addRestaurant(t *testing.T, s *Store) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, s.EnsureRestaurant(context.Background(), id))
	return id
}

func TestRunMigrations_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, s.DB(), nil))

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM iam_schema_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations()), count)
}

func TestGetMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestPermVersion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	v, err := s.PermVersion(ctx, uuid.New())
	require.NoError(t, err)
	assert.Zero(t, v)

	// First bump provisions the restaurant
	fresh := uuid.New()
	v, err = s.BumpPermVersion(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, err = s.BumpPermVersion(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	id := addRestaurant(t, s)
	v, err = s.PermVersion(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, v)

	v, err = s.BumpPermVersion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Re-registering keeps the version
	require.NoError(t, s.EnsureRestaurant(ctx, id))
	v, err = s.PermVersion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestHealthCheck(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.HealthCheck(context.Background()))

	repos := s.Repositories()
	assert.Same(t, s, repos.Catalog)
	assert.Same(t, s, repos.Tenants)
}
