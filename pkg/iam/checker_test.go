package iam_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedRoles blocks ListUserRoleGrants until release is closed
type gatedRoles struct {
	iam.RoleRepo
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGatedRoles(inner iam.RoleRepo) *gatedRoles {
	return &gatedRoles{RoleRepo: inner, entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gatedRoles) ListUserRoleGrants(ctx context.Context, restaurantID, userID uuid.UUID) ([]iam.RoleGrant, error) {
	g.calls.Add(1)
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.RoleRepo.ListUserRoleGrants(ctx, restaurantID, userID)
}

func gatedService(t *testing.T, f *fixture) *gatedRoles {
	t.Helper()
	repos := f.store.Repositories()
	gate := newGatedRoles(repos.Roles)
	repos.Roles = gate
	f.svc = iam.NewService(repos, f.cache, iam.WithAuditLogger(f.audit))
	return gate
}

type checkResult struct {
	decision *iam.Decision
	err      error
}

func checkAsync(ctx context.Context, f *fixture) <-chan checkResult {
	out := make(chan checkResult, 1)
	go func() {
		d, err := f.svc.CheckPermission(ctx, f.restaurant, f.user, "campaigns.email", "read", false)
		out <- checkResult{d, err}
	}()
	return out
}

func TestRebuildSurvivesCancelledLeader(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "marketer", iam.Grant{FeatureID: f.email.ID, ActionID: f.read.ID, Allowed: true})
	gate := gatedService(t, f)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := checkAsync(leaderCtx, f)
	<-gate.entered

	cancel()
	res := <-leader
	assert.ErrorIs(t, res.err, context.Canceled)

	// The shared build is still in flight; a live caller joins it
	follower := checkAsync(context.Background(), f)
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	res = <-follower
	require.NoError(t, res.err)
	assert.True(t, res.decision.Allowed)
	assert.Equal(t, iam.ReasonRoleGranted, res.decision.Reason)
	assert.Equal(t, int32(1), gate.calls.Load())
	assert.True(t, f.cache.has(iam.CacheKey(f.restaurant, f.user)))
}

func TestConcurrentMissesShareOneBuild(t *testing.T) {
	f := newFixture(t)
	gate := gatedService(t, f)

	first := checkAsync(context.Background(), f)
	<-gate.entered
	second := checkAsync(context.Background(), f)
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	for _, ch := range []<-chan checkResult{first, second} {
		res := <-ch
		require.NoError(t, res.err)
		assert.Equal(t, iam.ReasonDefaultDenied, res.decision.Reason)
	}
	assert.Equal(t, int32(1), gate.calls.Load())
}
