package middleware

import (
	"context"

	"github.com/iretilight/retailpos-backend/pkg/types"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (types.Principal, bool) {
	if ctx == nil {
		return types.Principal{}, false
	}
	principal, ok := ctx.Value(ctxPrincipal).(types.Principal)
	return principal, ok
}

// WithPrincipal injects the principal into the context for downstream handlers.
func WithPrincipal(ctx context.Context, principal types.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, principal)
}
