// Package identity resolves the acting user for the duration of an
// operation. Every mutating component reads the Identity from the request
// context; nothing below the HTTP layer touches tokens or headers.
package identity

import "context"

// AdminRole is the site-wide role that bypasses project membership checks.
const AdminRole = "admin"

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// Identity represents the authenticated user making a request.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

// Admin reports whether the identity bypasses membership checks.
func (id Identity) Admin() bool { return id.Role == AdminRole }

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// FromContext retrieves the Identity from the context.
// Returns the zero value and false if no identity is set.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}
