// Package middleware provides HTTP middleware that resolves the caller of a
// request.
//
// # Identity
//
// Authentication happens upstream. A trusted gateway forwards the resolved
// caller in three headers:
//
//	X-User-ID:        caller's user UUID (required)
//	X-Restaurant-ID:  tenant UUID the request acts on
//	X-Superadmin:     "true" for platform operators
//
// IdentityMiddleware validates them and stores an *iam.Identity in the
// request context:
//
//	router.Use(middleware.NewIdentityMiddleware(false).Handler)
//
// Handlers read it back with iam.IdentityFromContext, or GetIdentity.
//
// # Related Packages
//
//   - pkg/iam: Identity type and permission guards
//   - pkg/contextkeys: context keys shared across packages
package middleware
