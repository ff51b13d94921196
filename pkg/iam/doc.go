// Package iam implements the multi-tenant permission engine for restaurants.
//
// # Overview
//
// Every restaurant owns its roles, user role assignments, per-user overrides
// and entitlements. The capability catalog (modules, submodules, features and
// actions) is global and seeded by pkg/catalog.
//
// A user's effective permissions in one restaurant are computed into a
// Snapshot, a module > submodule > feature > action tree where every action
// carries Allowed, Locked and a Reason. Resolution order per action:
//
//  1. An entitlement with status locked or hidden on the feature, its
//     submodule or its module locks the action. Nothing overrides a lock.
//  2. A user override for the (feature, action) pair decides.
//  3. Otherwise role grants decide. When several roles grant the same pair
//     the later role wins, ordered by role creation time then id.
//  4. Otherwise the action is denied by default.
//
// # Caching and versions
//
// Snapshots are cached under CacheKey(restaurant, user) with a TTL. Every
// mutation bumps the restaurant's permission version and evicts all keys
// under the restaurant prefix, so a stale snapshot is never served after a
// write has returned:
//
//	svc := iam.NewService(repos, cache,
//		iam.WithLogger(logger),
//		iam.WithMetrics(metrics),
//		iam.WithAuditLogger(auditLogger),
//	)
//
//	decision, err := svc.CheckPermission(ctx, restaurantID, userID, "orders.online.refunds", "update", false)
//
// # HTTP surface
//
// Handlers mounts the routes under /iam. The caller identity is read from
// the request context (see pkg/middleware); routes that change tenant data
// are guarded by PermissionMiddleware with feature:action checks, and the
// bulk entitlement routes require a superadmin.
//
// Errors are *Error values whose Kind (ErrBadRequest, ErrUnauthorized,
// ErrForbidden, ErrNotFound or ErrInternal) httputil.WriteServiceError maps to status
// codes.
package iam
