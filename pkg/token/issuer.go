// Package token turns a service-account credential into short-lived
// OAuth2 access tokens.
//
// An [Issuer] signs a JWT-bearer assertion with [AssertionBuilder],
// exchanges it at the credential's token endpoint, and caches the result.
// A cached token is handed out until it comes within Config.Margin of
// expiry; the next caller then triggers a refresh. Concurrent callers
// that need a refresh share one in-flight request, and a caller whose
// context ends stops waiting without cancelling that request for the
// others. Nothing refreshes in the background and nothing is retried:
// a failed refresh is returned to every waiter.
//
//	issuer, err := token.NewIssuer(sa, token.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	bearer, err := issuer.AccessToken(ctx)
package token

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// GrantTypeJWTBearer is the OAuth2 grant type for signed assertions.
const GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

const (
	tracerName = "github.com/StricklySoft/stricklysoft-fireauth/pkg/token"

	// maxResponseSize bounds how much of a token response is read.
	maxResponseSize = 1 << 20

	refreshKey = "refresh"
)

// CachedToken is an access token and the instant it expires. Values are
// never modified after creation; a refresh replaces the whole value.
type CachedToken struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// usableAt reports whether the token is more than margin away from
// expiry at now.
func (t *CachedToken) usableAt(now time.Time, margin time.Duration) bool {
	return now.Add(margin).Before(t.ExpiresAt)
}

// Issuer mints and caches access tokens for one credential. It is safe
// for concurrent use.
type Issuer struct {
	config   Config
	builder  *AssertionBuilder
	endpoint string
	client   HTTPClient
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	current *CachedToken

	group singleflight.Group
}

// NewIssuer validates cfg and returns an Issuer for cred. Unset
// HTTPClient, Clock and Logger fields fall back to their defaults.
func NewIssuer(cred Credential, cfg Config) (*Issuer, error) {
	if cred == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "token: credential is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Issuer{
		config:   cfg,
		builder:  NewAssertionBuilder(cred, cfg.Scopes, cfg.AssertionLifetime),
		endpoint: cred.TokenURI(),
		client:   client,
		tracer:   tp.Tracer(tracerName),
		logger:   logger,
		now:      now,
	}, nil
}

// AccessToken returns a bearer token string suitable for an
// "Authorization: Bearer" header.
func (i *Issuer) AccessToken(ctx context.Context) (string, error) {
	tok, err := i.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token returns the cached token if it is more than Config.Margin from
// expiry. Otherwise it joins or starts a refresh and waits for it until
// ctx ends. The returned token is never expired.
//
// Errors carry TOKEN_001 (transport or non-2xx), TOKEN_002 (malformed
// success body), SIGN_001, or, when ctx ends first, TIMEOUT_001/INT_001.
func (i *Issuer) Token(ctx context.Context) (*CachedToken, error) {
	if tok := i.Cached(); tok != nil && tok.usableAt(i.now(), i.config.Margin) {
		return tok, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, sserr.FromContext(err, "token: context ended before refresh")
	}

	// The refresh runs detached from any single caller's cancellation so
	// other waiters still get its result.
	ch := i.group.DoChan(refreshKey, func() (any, error) {
		if tok := i.Cached(); tok != nil && tok.usableAt(i.now(), i.config.Margin) {
			return tok, nil
		}
		return i.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, sserr.FromContext(ctx.Err(), "token: stopped waiting for access token refresh")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		tok := res.Val.(*CachedToken)
		if !i.now().Before(tok.ExpiresAt) {
			return nil, sserr.New(sserr.CodeTokenResponseParse,
				"token: refreshed access token expired before it could be returned")
		}
		return tok, nil
	}
}

// Cached returns the most recently stored token, or nil if no refresh
// has succeeded yet. The token may be inside the margin or expired.
func (i *Issuer) Cached() *CachedToken {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.current
}

func (i *Issuer) store(tok *CachedToken) {
	i.mu.Lock()
	i.current = tok
	i.mu.Unlock()
}

// refresh performs one token exchange and stores the result. A failure
// leaves the previous token in place.
func (i *Issuer) refresh(ctx context.Context) (tok *CachedToken, err error) {
	if i.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.config.RequestTimeout)
		defer cancel()
	}

	ctx, span := i.tracer.Start(ctx, "token.Refresh", trace.WithAttributes(
		attribute.String("token.endpoint", i.endpoint),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			i.logger.WarnContext(ctx, "token: access token refresh failed",
				"error", err,
				"endpoint", i.endpoint,
			)
		}
		span.End()
	}()

	requestTime := i.now()
	assertion, err := i.builder.Build(requestTime)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type": {GrantTypeJWTBearer},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeTokenRequest, "token: failed to build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeTokenRequest, "token: token endpoint request failed")
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeTokenRequest, "token: failed to read token response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, body)
	}

	tok, err = parseTokenResponse(body, requestTime)
	if err != nil {
		return nil, err
	}
	i.store(tok)

	span.SetAttributes(attribute.String("token.expires_at", tok.ExpiresAt.UTC().Format(time.RFC3339)))
	i.logger.DebugContext(ctx, "token: access token refreshed",
		"endpoint", i.endpoint,
		"expires_at", tok.ExpiresAt,
	)
	return tok, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int64 `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// parseTokenResponse decodes a 2xx body. Expiry is measured from
// requestTime so time spent on the wire shortens, never lengthens, the
// token's local lifetime.
func parseTokenResponse(body []byte, requestTime time.Time) (*CachedToken, error) {
	var r tokenResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeTokenResponseParse, "token: token response is not valid JSON")
	}
	switch {
	case r.AccessToken == "":
		return nil, sserr.New(sserr.CodeTokenResponseParse, "token: token response has no access_token")
	case r.ExpiresIn == nil:
		return nil, sserr.New(sserr.CodeTokenResponseParse, "token: token response has no expires_in")
	case *r.ExpiresIn <= 0:
		return nil, sserr.Newf(sserr.CodeTokenResponseParse,
			"token: token response expires_in %d is not positive", *r.ExpiresIn)
	case r.TokenType != "" && !strings.EqualFold(r.TokenType, "bearer"):
		return nil, sserr.Newf(sserr.CodeTokenResponseParse,
			"token: unsupported token_type %q", r.TokenType)
	}

	return &CachedToken{
		AccessToken: r.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   requestTime.Add(time.Duration(*r.ExpiresIn) * time.Second),
	}, nil
}

// statusError builds a TOKEN_001 error for a non-2xx answer, lifting
// the OAuth2 error fields into details when the body carries them.
func statusError(status int, body []byte) *sserr.Error {
	details := map[string]any{"status": status}
	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &oauthErr) == nil {
		if oauthErr.Error != "" {
			details["error"] = oauthErr.Error
		}
		if oauthErr.ErrorDescription != "" {
			details["error_description"] = oauthErr.ErrorDescription
		}
	}
	return sserr.Newf(sserr.CodeTokenRequest,
		"token: token endpoint returned HTTP %d", status).WithDetails(details)
}
