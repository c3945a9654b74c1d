// Package auth connects the access token issuer and the ID token verifier
// to HTTP and gRPC.
//
// Inbound, [HTTPMiddleware] and the gRPC server interceptors read an
// "Authorization: Bearer" ID token, verify it with a [TokenVerifier] and
// store the resulting claims in the request context. Outbound,
// [BearerRoundTripper], the gRPC client interceptors and
// [PerRPCCredentials] attach an access token obtained from a
// [TokenProvider].
//
//	verify := auth.VerifierFunc(func(ctx context.Context, raw string) (*idtoken.Claims, error) {
//	    return verifier.Verify(ctx, raw, projectID, time.Now())
//	})
//	handler := auth.HTTPMiddleware(verify)(mux)
package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/StricklySoft/stricklysoft-fireauth/pkg/idtoken"
)

// HeaderAuthorization is the header and gRPC metadata key that carries
// bearer tokens. gRPC requires lowercase keys.
const HeaderAuthorization = "authorization"

// bearerPrefix is the standard "Bearer " prefix for authorization tokens.
const bearerPrefix = "Bearer "

// Option customizes [HTTPMiddleware] and the gRPC server interceptors.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger that records verification failures other
// than rejected tokens. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// TokenVerifier verifies a raw ID token. *app.App implements it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, raw string) (*idtoken.Claims, error)
}

// VerifierFunc adapts a function to [TokenVerifier].
type VerifierFunc func(ctx context.Context, raw string) (*idtoken.Claims, error)

// VerifyIDToken calls f(ctx, raw).
func (f VerifierFunc) VerifyIDToken(ctx context.Context, raw string) (*idtoken.Claims, error) {
	return f(ctx, raw)
}

// TokenProvider returns a usable access token. *token.Issuer and *app.App
// implement it.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// ExtractBearerToken extracts the token from an authorization header value.
// It handles the "Bearer " prefix case-insensitively.
// Returns an empty string if the header is empty or does not have a bearer prefix.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	prefix := authHeader[:len(bearerPrefix)]
	if !strings.EqualFold(prefix, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}
