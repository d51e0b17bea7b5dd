package middleware

import (
	"context"

	"github.com/hashjosh/meshauth/internal/services/iam"
)

type renewedTokensKey struct{}

// withRenewedTokens records the pair issued by in-band renewal for downstream handlers.
func withRenewedTokens(ctx context.Context, pair *iam.TokenPair) context.Context {
	return context.WithValue(ctx, renewedTokensKey{}, pair)
}

// RenewedTokensFromContext returns the pair issued while authenticating this
// request. When present, the refresh token the client presented has already
// been consumed and this pair names the live session.
func RenewedTokensFromContext(ctx context.Context) (*iam.TokenPair, bool) {
	pair, ok := ctx.Value(renewedTokensKey{}).(*iam.TokenPair)
	return pair, ok && pair != nil
}
