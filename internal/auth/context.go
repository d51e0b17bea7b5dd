package auth

import "context"

type principalContextKey struct{}

// WithPrincipal stores the authenticated principal on the context for downstream handlers.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal.clone())
}

// PrincipalFromContext retrieves the principal installed by the authenticator.
// ok is false for anonymous requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok {
		return Principal{}, false
	}
	return principal.clone(), true
}
