/*Package access provides utilities for access control.

The carlog backend consumes a single piece of authentication state: the
verified external identity of the caller. Token validation happens in
middleware (see NewJwtMiddleware and NewBackdoorMiddleware); handlers only
ever see the resulting identity string through the request context.
*/
package access

import (
	"context"
	"errors"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyIdentity contextKey = "_identity_"

// ErrNoIdentity is returned when a request carries no verified identity.
var ErrNoIdentity = errors.New("no verified identity")

// ContextWithIdentity returns a new context carrying the verified
// external identity of the caller.
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext returns the verified identity from the request
// context, or ErrNoIdentity if the request was not authenticated.
func IdentityFromContext(ctx context.Context) (string, error) {
	identity, ok := ctx.Value(contextKeyIdentity).(string)
	if !ok || identity == "" {
		return "", ErrNoIdentity
	}
	return identity, nil
}

// HasIdentity returns true if the context carries a verified identity.
func HasIdentity(ctx context.Context) bool {
	_, err := IdentityFromContext(ctx)
	return err == nil
}
