package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/cache"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/platinummonkey/restaurant-iam/pkg/storage/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
actions:
  - {id: 1, key: read}
  - {id: 2, key: create}
  - {key: delete}
modules:
  - key: marketing
    name: Marketing
    submodules:
      - key: marketing.campaigns
        name: Campaigns
        features:
          - {key: marketing.campaigns.email, name: Email}
          - {key: marketing.campaigns.sms}
  - key: settings
    name: Settings
    sortOrder: 10
    submodules:
      - key: settings.staff
        name: Staff
        features:
          - {key: roles.manage, name: Roles}
`

type recordingNotifier struct {
	calls    int
	payloads []map[string]interface{}
	err      error
}

func (n *recordingNotifier) CatalogChanged(ctx context.Context, summary map[string]interface{}) error {
	n.calls++
	n.payloads = append(n.payloads, summary)
	return n.err
}

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleCatalog))
	require.NoError(t, err)

	require.Len(t, def.Modules, 2)
	assert.Equal(t, 1, def.Modules[0].SortOrder)
	assert.Equal(t, 10, def.Modules[1].SortOrder)

	sms := def.Modules[0].Submodules[0].Features[1]
	assert.Equal(t, 2, sms.SortOrder)
	assert.Equal(t, "marketing.campaigns.sms", sms.Name)

	modules, submodules, features, actions := def.Counts()
	assert.Equal(t, []int{2, 2, 3, 3}, []int{modules, submodules, features, actions})
}

func TestLoadDefinition_ExampleCatalog(t *testing.T) {
	def, err := LoadDefinition("../../examples/catalog.yaml")
	require.NoError(t, err)

	modules, submodules, features, actions := def.Counts()
	assert.Equal(t, 4, modules)
	assert.Equal(t, 7, submodules)
	assert.Equal(t, 15, features)
	assert.Equal(t, 5, actions)

	// the admin routes are guarded by these features
	keys := map[string]bool{}
	for _, m := range def.Modules {
		for _, sm := range m.Submodules {
			for _, f := range sm.Features {
				keys[f.Key] = true
			}
		}
	}
	for _, key := range []string{"roles.manage", "users.manage", "admin:users", "entitlements.manage", "audit.logs"} {
		assert.True(t, keys[key], key)
	}
}

func TestParseDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "catalog is empty"},
		{"unknown field", "modules:\n  - key: a\n    colour: red\n", "failed to parse catalog"},
		{"missing key", "modules:\n  - name: A\n", "key is required"},
		{"duplicate feature", `
modules:
  - key: a
    submodules:
      - key: a.x
        features: [{key: f}]
      - key: a.y
        features: [{key: f}]
`, `duplicate feature key "f"`},
		{"duplicate action id", "actions:\n  - {id: 1, key: read}\n  - {id: 1, key: write}\n", "duplicate action id 1"},
		{"negative action id", "actions:\n  - {id: -1, key: read}\n", "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	notifier := &recordingNotifier{}
	seeder := NewSeeder(store, notifier)

	def, err := ParseDefinition([]byte(sampleCatalog))
	require.NoError(t, err)

	summary, err := seeder.Seed(ctx, def, "catalog.yaml")
	require.NoError(t, err)
	assert.Equal(t, Summary{Modules: 2, Submodules: 2, Features: 3, Actions: 3}, summary)
	require.Equal(t, 1, notifier.calls)
	assert.Equal(t, "catalog.yaml", notifier.payloads[0]["source"])

	actions, err := store.ListActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, iam.Action{ID: 3, Key: "delete"}, actions[2])

	features, err := store.ListFeatures(ctx)
	require.NoError(t, err)
	require.Len(t, features, 3)
	assert.Equal(t, "marketing.campaigns.email", features[0].Key)
	assert.Equal(t, "marketing", features[0].Module.Key)
	assert.Equal(t, "roles.manage", features[2].Key)

	// Reseeding keeps ids
	before := features[0].ID
	_, err = seeder.Seed(ctx, def, "catalog.yaml")
	require.NoError(t, err)
	features, err = store.ListFeatures(ctx)
	require.NoError(t, err)
	assert.Len(t, features, 3)
	assert.Equal(t, before, features[0].ID)
}

func TestSeed_NotifierError(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleCatalog))
	require.NoError(t, err)

	seeder := NewSeeder(memory.New(), &recordingNotifier{err: errors.New("redis down")})
	summary, err := seeder.Seed(context.Background(), def, "x")
	assert.ErrorContains(t, err, "cache invalidation failed")
	assert.Equal(t, 3, summary.Features)
}

func TestSeed_DropsCachedSnapshots(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	snapshots := cache.NewMemoryCache(100, time.Hour)
	svc := iam.NewService(store.Repositories(), snapshots)

	restaurant, user := uuid.New(), uuid.New()
	require.NoError(t, snapshots.Set(ctx, iam.CacheKey(restaurant, user), []byte(`{}`), time.Hour))
	require.NoError(t, snapshots.Set(ctx, "unrelated", []byte(`{}`), time.Hour))

	def, err := ParseDefinition([]byte(sampleCatalog))
	require.NoError(t, err)
	_, err = NewSeeder(store, svc).Seed(ctx, def, "catalog.yaml")
	require.NoError(t, err)

	got, err := snapshots.Get(ctx, iam.CacheKey(restaurant, user))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, snapshots.Len())
}

func TestSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0644))

	summary, err := NewSeeder(memory.New(), nil).SeedFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Modules)

	_, err = NewSeeder(memory.New(), nil).SeedFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read catalog")
}

func TestWatcher_ReseedsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0644))

	store := memory.New()
	log := logrus.New()
	w, err := NewWatcher(path, NewSeeder(store, nil), 20*time.Millisecond, log)
	require.NoError(t, err)

	reloads := make(chan Summary, 4)
	w.OnReload(func(s Summary, err error) {
		if err == nil {
			reloads <- s
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog+"\n"), 0644))

	select {
	case s := <-reloads:
		assert.Equal(t, 3, s.Features)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the catalog")
	}

	cancel()
	assert.NoError(t, <-done)

	features, err := store.ListFeatures(context.Background())
	require.NoError(t, err)
	assert.Len(t, features, 3)
}
