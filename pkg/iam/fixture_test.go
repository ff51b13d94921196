package iam_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/audit"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/platinummonkey/restaurant-iam/pkg/storage/memory"
	"github.com/stretchr/testify/require"
)

// fakeCache is a map-backed iam.Cache with failure injection
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration

	getErr   error
	setErr   error
	evictErr error

	gets int
	sets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.data[key], nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evictErr != nil {
		return 0, c.evictErr
	}
	n := 0
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
			n++
		}
	}
	return n, nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// recordingAudit keeps every event it is given
type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
	err    error
}

func (a *recordingAudit) Log(_ context.Context, event *audit.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recordingAudit) Close() error { return nil }

func (a *recordingAudit) ofType(t audit.EventType) []*audit.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*audit.AuditEvent
	for _, e := range a.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store *memory.Store
	cache *fakeCache
	audit *recordingAudit
	svc   *iam.Service
	now   time.Time

	restaurant uuid.UUID
	user       uuid.UUID
	admin      uuid.UUID

	module    iam.Module
	submodule iam.Submodule
	email     iam.Feature
	sms       iam.Feature
	read      iam.Action
	write     iam.Action
}

func newFixture(t *testing.T, opts ...iam.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:      memory.New(),
		cache:      newFakeCache(),
		audit:      &recordingAudit{},
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		restaurant: uuid.New(),
		user:       uuid.New(),
		admin:      uuid.New(),
	}

	f.module = iam.Module{Key: "marketing", Name: "Marketing", SortOrder: 1}
	require.NoError(t, f.store.UpsertModule(ctx, &f.module))
	f.submodule = iam.Submodule{ModuleID: f.module.ID, Key: "campaigns", Name: "Campaigns", SortOrder: 1}
	require.NoError(t, f.store.UpsertSubmodule(ctx, &f.submodule))
	f.email = iam.Feature{SubmoduleID: f.submodule.ID, Key: "campaigns.email", Name: "Email", SortOrder: 1}
	require.NoError(t, f.store.UpsertFeature(ctx, &f.email))
	f.sms = iam.Feature{SubmoduleID: f.submodule.ID, Key: "campaigns.sms", Name: "SMS", SortOrder: 2}
	require.NoError(t, f.store.UpsertFeature(ctx, &f.sms))
	f.read = iam.Action{ID: 1, Key: "read"}
	require.NoError(t, f.store.UpsertAction(ctx, &f.read))
	f.write = iam.Action{ID: 2, Key: "write"}
	require.NoError(t, f.store.UpsertAction(ctx, &f.write))

	clock := func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}
	all := append([]iam.Option{iam.WithAuditLogger(f.audit), iam.WithClock(clock)}, opts...)
	f.svc = iam.NewService(f.store.Repositories(), f.cache, all...)
	return f
}

// ctx carries the admin identity so audit records get an actor
func (f *fixture) ctx() context.Context {
	return iam.WithIdentity(context.Background(), &iam.Identity{UserID: f.admin, RestaurantID: f.restaurant})
}

func (f *fixture) version(t *testing.T, restaurant uuid.UUID) int64 {
	t.Helper()
	v, err := f.store.PermVersion(context.Background(), restaurant)
	require.NoError(t, err)
	return v
}

// grantRole creates a role with grants and assigns it to the fixture user
func (f *fixture) grantRole(t *testing.T, key string, grants ...iam.Grant) *iam.Role {
	t.Helper()
	role, err := f.svc.CreateRole(f.ctx(), f.restaurant, key, key, false)
	require.NoError(t, err)
	require.NoError(t, f.svc.SetRolePermissions(f.ctx(), role.ID, f.restaurant, grants))
	require.NoError(t, f.svc.AssignUserRole(f.ctx(), f.user, f.restaurant, role.ID))
	return role
}

func (f *fixture) check(t *testing.T, featureKey, actionKey string) *iam.Decision {
	t.Helper()
	d, err := f.svc.CheckPermission(context.Background(), f.restaurant, f.user, featureKey, actionKey, false)
	require.NoError(t, err)
	return d
}
