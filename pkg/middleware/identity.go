package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/contextkeys"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
)

// Identity headers set by the upstream gateway
const (
	HeaderUserID       = "X-User-ID"
	HeaderRestaurantID = "X-Restaurant-ID"
	HeaderSuperadmin   = "X-Superadmin"
)

// IdentityMiddleware resolves the caller from gateway headers
type IdentityMiddleware struct {
	optional bool // If true, allow requests without a caller
}

// NewIdentityMiddleware creates a new identity middleware
func NewIdentityMiddleware(optional bool) *IdentityMiddleware {
	return &IdentityMiddleware{optional: optional}
}

// Handler wraps an HTTP handler with identity resolution
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawUser := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if rawUser == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "missing "+HeaderUserID+" header")
			return
		}

		userID, err := uuid.Parse(rawUser)
		if err != nil || userID == uuid.Nil {
			writeError(w, http.StatusUnauthorized, "invalid "+HeaderUserID+" header")
			return
		}

		var restaurantID uuid.UUID
		if raw := strings.TrimSpace(r.Header.Get(HeaderRestaurantID)); raw != "" {
			restaurantID, err = uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+HeaderRestaurantID+" header")
				return
			}
		}

		var superadmin bool
		if raw := strings.TrimSpace(r.Header.Get(HeaderSuperadmin)); raw != "" {
			superadmin, err = strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+HeaderSuperadmin+" header")
				return
			}
		}

		ctx := iam.WithIdentity(r.Context(), &iam.Identity{
			UserID:       userID,
			RestaurantID: restaurantID,
			IsSuperadmin: superadmin,
		})
		ctx = contextkeys.WithUserID(ctx, userID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity returns the caller of r, or nil
func GetIdentity(r *http.Request) *iam.Identity {
	return iam.IdentityFromContext(r.Context())
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
