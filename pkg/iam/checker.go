package iam

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// BuildSnapshot loads everything that contributes to a user's permissions in
// a restaurant and folds it into a Snapshot. The result is not cached.
func (s *Service) BuildSnapshot(ctx context.Context, restaurantID, userID uuid.UUID) (*Snapshot, error) {
	if restaurantID == uuid.Nil || userID == uuid.Nil {
		return nil, Unauthorizedf("restaurantId and userId are required")
	}

	ctx, span := tracer.Start(ctx, "iam.BuildSnapshot", trace.WithAttributes(
		attribute.String("restaurant_id", restaurantID.String()),
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	start := time.Now()
	snapshot, err := s.buildSnapshot(ctx, restaurantID, userID)
	s.metrics.ObserveSnapshotBuild(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int64("perm_version", snapshot.PermVersion))
	return snapshot, nil
}

func (s *Service) buildSnapshot(ctx context.Context, restaurantID, userID uuid.UUID) (*Snapshot, error) {
	in := SnapshotInput{RestaurantID: restaurantID, UserID: userID}

	// The version is read first so a concurrent mutation can only make the
	// snapshot look older than its content, never newer.
	version, err := s.repos.Tenants.PermVersion(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	in.PermVersion = version

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.Modules, err = s.repos.Catalog.ListModules(gctx)
		return wrapLoad("modules", err)
	})
	g.Go(func() (err error) {
		in.Submodules, err = s.repos.Catalog.ListSubmodules(gctx)
		return wrapLoad("submodules", err)
	})
	g.Go(func() (err error) {
		in.Features, err = s.repos.Catalog.ListFeatures(gctx)
		return wrapLoad("features", err)
	})
	g.Go(func() (err error) {
		in.Actions, err = s.repos.Catalog.ListActions(gctx)
		return wrapLoad("actions", err)
	})
	g.Go(func() (err error) {
		in.RoleGrants, err = s.repos.Roles.ListUserRoleGrants(gctx, restaurantID, userID)
		return wrapLoad("role permissions", err)
	})
	g.Go(func() (err error) {
		in.Overrides, err = s.repos.Overrides.ListOverrides(gctx, restaurantID, userID)
		return wrapLoad("overrides", err)
	})
	g.Go(func() (err error) {
		in.Entitlements, err = s.repos.Entitlements.ListEntitlements(gctx, restaurantID)
		return wrapLoad("entitlements", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return BuildSnapshot(in), nil
}

func wrapLoad(what string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", what, err)
	}
	return nil
}

// CheckPermission answers whether userID may perform actionKey on featureKey
// in restaurantID. Unknown keys resolve to a default deny, not an error.
func (s *Service) CheckPermission(ctx context.Context, restaurantID, userID uuid.UUID, featureKey, actionKey string, isSuperadmin bool) (*Decision, error) {
	if restaurantID == uuid.Nil || userID == uuid.Nil {
		return nil, Unauthorizedf("restaurantId and userId are required")
	}
	if featureKey == "" || actionKey == "" {
		return nil, BadRequestf("featureKey and actionKey are required")
	}

	if isSuperadmin {
		s.metrics.ObserveCheck("superadmin", true)
		return &Decision{Allowed: true, Locked: false, Reason: ReasonSuperadmin}, nil
	}

	ctx, span := tracer.Start(ctx, "iam.CheckPermission", trace.WithAttributes(
		attribute.String("restaurant_id", restaurantID.String()),
		attribute.String("feature_key", featureKey),
		attribute.String("action_key", actionKey),
	))
	defer span.End()

	key := CacheKey(restaurantID, userID)

	if cached := s.cachedSnapshot(ctx, key, restaurantID); cached != nil {
		if node, ok := cached.Find(featureKey, actionKey); ok {
			s.metrics.CacheHit("snapshot")
			s.metrics.ObserveCheck("cache", node.Allowed)
			span.SetAttributes(attribute.Bool("cache_hit", true), attribute.Bool("allowed", node.Allowed))
			return decisionOf(node), nil
		}
		s.metrics.CacheMiss("snapshot", "key_missing")
	}

	snapshot, err := s.rebuild(ctx, key, restaurantID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if node, ok := snapshot.Find(featureKey, actionKey); ok {
		s.metrics.ObserveCheck("rebuild", node.Allowed)
		span.SetAttributes(attribute.Bool("cache_hit", false), attribute.Bool("allowed", node.Allowed))
		return decisionOf(node), nil
	}

	s.metrics.ObserveCheck("fallback", false)
	return &Decision{Allowed: false, Locked: false, Reason: ReasonNotFound}, nil
}

func decisionOf(node ActionNode) *Decision {
	return &Decision{Allowed: node.Allowed, Locked: node.Locked, Reason: node.Reason}
}

// cachedSnapshot returns the cached snapshot for key, or nil. Cache and
// decoding errors degrade to a miss.
func (s *Service) cachedSnapshot(ctx context.Context, key string, restaurantID uuid.UUID) *Snapshot {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.CacheError("get")
		s.log(ctx).WithError(err).WithField("key", key).Warn("permission cache read failed")
		return nil
	}
	if data == nil {
		s.metrics.CacheMiss("snapshot", "absent")
		return nil
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.metrics.CacheError("decode")
		s.log(ctx).WithError(err).WithField("key", key).Warn("discarding undecodable cached snapshot")
		return nil
	}

	if s.cfg.StrictVersionCheck {
		live, err := s.repos.Tenants.PermVersion(ctx, restaurantID)
		if err != nil {
			s.log(ctx).WithError(err).WithField("key", key).Warn("permission version lookup failed")
			return nil
		}
		if live != snapshot.PermVersion {
			s.metrics.CacheMiss("snapshot", "stale")
			return nil
		}
	}

	return &snapshot
}

// rebuild builds and caches a fresh snapshot. Concurrent rebuilds of the
// same key share one build when CoalesceRebuilds is set. A shared build runs
// detached from the caller that started it, bounded by RebuildTimeout, so one
// cancelled request cannot fail the others waiting on the same key.
func (s *Service) rebuild(ctx context.Context, key string, restaurantID, userID uuid.UUID) (*Snapshot, error) {
	if !s.cfg.CoalesceRebuilds {
		return s.buildAndCache(ctx, key, restaurantID, userID)
	}

	ch := s.rebuilds.DoChan(key, func() (interface{}, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RebuildTimeout)
		defer cancel()
		return s.buildAndCache(buildCtx, key, restaurantID, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) buildAndCache(ctx context.Context, key string, restaurantID, userID uuid.UUID) (*Snapshot, error) {
	snapshot, err := s.BuildSnapshot(ctx, restaurantID, userID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.cache.Set(ctx, key, data, s.cfg.CacheTTL); err != nil {
		s.metrics.CacheError("set")
		s.log(ctx).WithError(err).WithField("key", key).Warn("permission cache write failed")
	}
	return snapshot, nil
}
