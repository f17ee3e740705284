// Package auth verifies owner bearer tokens and carries the owner through
// request contexts.
package auth

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const ownerContextKey contextKey = "owner"

// Owner is the authenticated caller.
type Owner struct {
	ID string
}

// ContextWithOwner adds the owner to the context.
func ContextWithOwner(ctx context.Context, owner *Owner) context.Context {
	return context.WithValue(ctx, ownerContextKey, owner)
}

// OwnerFromContext retrieves the owner from the context, nil if absent.
func OwnerFromContext(ctx context.Context) *Owner {
	owner, ok := ctx.Value(ownerContextKey).(*Owner)
	if !ok {
		return nil
	}
	return owner
}

// OwnerIDFromContext returns the authenticated owner id, or "".
func OwnerIDFromContext(ctx context.Context) string {
	owner := OwnerFromContext(ctx)
	if owner == nil {
		return ""
	}
	return owner.ID
}
