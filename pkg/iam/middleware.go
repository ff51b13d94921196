package iam

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/httputil"
)

// DeniedResponse is the body of a 403 from RequirePermission
type DeniedResponse struct {
	Error  string `json:"error"`
	Locked bool   `json:"locked"`
	Reason string `json:"reason"`
}

// PermissionMiddleware guards HTTP handlers with permission checks
type PermissionMiddleware struct {
	service *Service
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(service *Service) *PermissionMiddleware {
	return &PermissionMiddleware{service: service}
}

// RequireIdentity rejects requests without a resolved caller
func (pm *PermissionMiddleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFromContext(r.Context()) == nil {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSuperadmin only lets superadmins through
func (pm *PermissionMiddleware) RequireSuperadmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id == nil {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}
		if !id.IsSuperadmin {
			httputil.WriteForbidden(w, "Superadmin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission creates middleware that requires featureKey x actionKey
// in the caller's restaurant
func (pm *PermissionMiddleware) RequirePermission(featureKey, actionKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			restaurantID, err := requestTenant(r, id)
			if err != nil {
				httputil.WriteServiceError(w, err)
				return
			}

			decision, err := pm.service.CheckPermission(r.Context(), restaurantID, id.UserID, featureKey, actionKey, id.IsSuperadmin)
			if err != nil {
				if StatusCode(err) >= http.StatusInternalServerError {
					pm.service.log(r.Context()).WithError(err).
						WithField("feature", featureKey).
						WithField("action", actionKey).
						Error("permission check failed")
				}
				httputil.WriteServiceError(w, err)
				return
			}

			if !decision.Allowed {
				httputil.WriteJSON(w, http.StatusForbidden, DeniedResponse{
					Error:  "Insufficient permissions",
					Locked: decision.Locked,
					Reason: decision.Reason,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Require parses a "feature:action" permission. The action is everything
// after the last colon, so "admin:users:update" guards feature "admin:users".
func (pm *PermissionMiddleware) Require(permission string) func(http.Handler) http.Handler {
	i := strings.LastIndex(permission, ":")
	if i <= 0 || i == len(permission)-1 {
		panic("iam: malformed permission " + permission)
	}
	return pm.RequirePermission(permission[:i], permission[i+1:])
}

// requestTenant is the restaurant a request acts on. Superadmins may target
// another restaurant with ?restaurantId=.
func requestTenant(r *http.Request, id *Identity) (uuid.UUID, error) {
	if id.IsSuperadmin {
		override, err := httputil.ParseQueryUUID(r, "restaurantId")
		if err != nil {
			return uuid.Nil, BadRequestf("%s", err.Error())
		}
		if override != uuid.Nil {
			return override, nil
		}
	}
	return id.RestaurantID, nil
}
