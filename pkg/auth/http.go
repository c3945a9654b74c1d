package auth

import (
	"net/http"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// HTTPMiddleware returns an HTTP middleware that verifies the ID token in
// the Authorization header and stores its claims in the request context.
//
// A missing or non-bearer header is answered with 401. A verification
// failure is answered with the status of its error code: 401 for token and
// key lookup failures, 502 when the key set could not be fetched and 504
// when the lookup timed out. Response bodies never include the cause.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/api/data", handleData)
//	handler := auth.HTTPMiddleware(app)(mux)
//	http.ListenAndServe(":8080", handler)
func HTTPMiddleware(verifier TokenVerifier, opts ...Option) func(http.Handler) http.Handler {
	logger := newOptions(opts).logger
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer`)
				http.Error(w, "missing or invalid authorization header", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			claims, err := verifier.VerifyIDToken(ctx, token)
			if err != nil {
				status := sserr.FromError(err).HTTPStatus()
				if status == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
					http.Error(w, "id token verification failed", status)
					return
				}
				logger.WarnContext(ctx, "auth: id token could not be verified",
					"error", err,
					"code", sserr.GetCode(err),
					"path", r.URL.Path,
				)
				http.Error(w, http.StatusText(status), status)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, claims)))
		})
	}
}

// BearerRoundTripper wraps an [http.RoundTripper] and sets the
// Authorization header of every outgoing request to a bearer access token
// obtained from a [TokenProvider].
//
// The provider is called with the request context, so a request whose
// context ends while a token refresh is in flight returns promptly. The
// refresh itself continues for other callers.
//
// Example:
//
//	client := &http.Client{
//	    Transport: auth.NewBearerRoundTripper(issuer, http.DefaultTransport),
//	}
type BearerRoundTripper struct {
	provider TokenProvider

	// wrapped is the underlying RoundTripper that performs the actual HTTP call.
	wrapped http.RoundTripper
}

// NewBearerRoundTripper creates a BearerRoundTripper. If transport is nil,
// [http.DefaultTransport] is used.
func NewBearerRoundTripper(provider TokenProvider, transport http.RoundTripper) *BearerRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &BearerRoundTripper{
		provider: provider,
		wrapped:  transport,
	}
}

// RoundTrip implements the [http.RoundTripper] interface. The original
// request is not modified. If no token can be obtained the request is not
// sent and the provider's error is returned.
func (t *BearerRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	token, err := t.provider.AccessToken(r.Context())
	if err != nil {
		if r.Body != nil {
			_ = r.Body.Close()
		}
		return nil, err
	}

	clone := r.Clone(r.Context())
	clone.Header.Set(HeaderAuthorization, bearerPrefix+token)
	return t.wrapped.RoundTrip(clone)
}
