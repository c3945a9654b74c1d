package auth

import (
	"context"

	"github.com/StricklySoft/stricklysoft-fireauth/pkg/idtoken"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const (
	// claimsKey stores the verified *idtoken.Claims.
	claimsKey contextKey = iota
)

// ContextWithClaims returns a new context carrying verified ID token
// claims. The middleware and server interceptors call it after a token
// verifies.
func ContextWithClaims(ctx context.Context, claims *idtoken.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the verified claims stored in ctx. It never
// returns non-nil claims with false.
//
//	claims, ok := auth.ClaimsFromContext(r.Context())
//	if !ok {
//	    http.Error(w, "unauthenticated", http.StatusUnauthorized)
//	    return
//	}
//	log.Info("request from", "uid", claims.UID)
func ClaimsFromContext(ctx context.Context) (*idtoken.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*idtoken.Claims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}

// MustClaimsFromContext is like [ClaimsFromContext] but panics when no
// claims are present. Use it only behind the middleware.
func MustClaimsFromContext(ctx context.Context) *idtoken.Claims {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		panic("auth: no id token claims in context; ensure authentication middleware is configured")
	}
	return claims
}
