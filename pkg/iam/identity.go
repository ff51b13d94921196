package iam

import (
	"context"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/contextkeys"
)

// Identity is the resolved caller of a request
type Identity struct {
	UserID       uuid.UUID
	RestaurantID uuid.UUID
	IsSuperadmin bool
}

// WithIdentity stores id in ctx
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, id)
}

// IdentityFromContext returns the caller identity, or nil
func IdentityFromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return id
}
