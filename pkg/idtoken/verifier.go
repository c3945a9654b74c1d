// Package idtoken verifies Firebase ID tokens.
//
// Verification follows the documented procedure for third-party JWT
// libraries: the header must declare RS256 and a kid, the kid is
// resolved to a public key through a [KeyResolver] (normally a
// *keys.Cache), the signature is checked, and then the claims are
// validated against the expected project. Every failure carries a
// distinct error code so callers can tell a stale token (IDT_004) from a
// misdirected (IDT_006, IDT_007) or forged (IDT_003) one without
// matching on messages.
//
//	v, err := idtoken.NewVerifier(cache, idtoken.DefaultConfig())
//	claims, err := v.Verify(ctx, raw, "my-project", time.Now())
//	switch {
//	case errors.IsExpiredToken(err):
//	    // ask the client to refresh
//	case err != nil:
//	    // reject
//	}
package idtoken

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/keys"
)

const tracerName = "github.com/StricklySoft/stricklysoft-fireauth/pkg/idtoken"

// algorithm is the only signing algorithm Firebase uses for ID tokens.
const algorithm = "RS256"

// KeyResolver resolves a kid to a public key entry. *keys.Cache
// implements it.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (*keys.Entry, error)
}

// Verifier checks ID tokens. It holds no per-token state and is safe for
// concurrent use.
type Verifier struct {
	config Config
	keys   KeyResolver
	parser *jwt.Parser
	tracer trace.Tracer
	logger *slog.Logger
}

// NewVerifier validates cfg and returns a Verifier that resolves keys
// through resolver.
func NewVerifier(resolver KeyResolver, cfg Config) (*Verifier, error) {
	if resolver == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "idtoken: key resolver is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Verifier{
		config: cfg,
		keys:   resolver,
		// Time-based claims are validated below with classified errors,
		// so the parser only checks structure and signature.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{algorithm}),
			jwt.WithoutClaimsValidation(),
		),
		tracer: tp.Tracer(tracerName),
		logger: logger,
	}, nil
}

// Verify checks raw for projectID at time now and returns its claims.
//
// Errors, in the order the checks run:
//   - IDT_001 if the token is not a well-formed JWT or lacks a kid
//   - IDT_002 if the header declares an algorithm other than RS256
//   - KEYS_001 or KEYS_002 from the key resolver, unchanged
//   - KEYS_003 if the resolved key is outside its validity window at now
//   - IDT_003 if the signature does not verify
//   - IDT_007, IDT_006, IDT_004, IDT_005, IDT_008 for the issuer,
//     audience, expiry, issued-at/auth_time and subject checks
func (v *Verifier) Verify(ctx context.Context, raw, projectID string, now time.Time) (claims *Claims, err error) {
	ctx, span := v.tracer.Start(ctx, "idtoken.Verify")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("idtoken.error_code", sserr.GetCode(err).String()))
			v.logger.DebugContext(ctx, "idtoken: verification failed", "error", err)
		}
		span.End()
	}()

	if projectID == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "idtoken: project id is required")
	}
	if raw == "" {
		return nil, sserr.New(sserr.CodeTokenMalformed, "idtoken: token is empty")
	}

	kid, err := v.header(raw)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("idtoken.kid", kid))

	entry, err := v.keys.Key(ctx, kid)
	if err != nil {
		return nil, err
	}
	if !entry.ValidAt(now) {
		return nil, sserr.Newf(sserr.CodeKeyExpired,
			"idtoken: signing key %q is not valid at %s", kid, now.UTC().Format(time.RFC3339)).
			WithDetails(map[string]any{"kid": kid, "valid_until": entry.ValidUntil})
	}
	pub, ok := entry.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, sserr.Newf(sserr.CodeUnsupportedAlgorithm,
			"idtoken: signing key %q is %T, not RSA", kid, entry.PublicKey)
	}

	mc := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, mc, func(*jwt.Token) (any, error) {
		return pub, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, sserr.Wrap(err, sserr.CodeInvalidSignature, "idtoken: signature verification failed")
		}
		return nil, sserr.Wrap(err, sserr.CodeTokenMalformed, "idtoken: token is malformed")
	}

	claims, err = decodeClaims(mc)
	if err != nil {
		return nil, err
	}
	if err := v.validate(claims, projectID, now); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("idtoken.uid", claims.UID))
	return claims, nil
}

// header decodes the unverified header and returns its kid after
// checking the declared algorithm.
func (v *Verifier) header(raw string) (string, error) {
	token, _, err := v.parser.ParseUnverified(raw, jwt.MapClaims{})
	if token == nil || token.Header == nil {
		return "", sserr.Wrap(err, sserr.CodeTokenMalformed, "idtoken: token is not a JWT")
	}

	// The algorithm is checked before the parse error so that "none" and
	// unknown algorithms are reported as unsupported, not malformed.
	alg, _ := token.Header["alg"].(string)
	if alg != algorithm {
		return "", sserr.Newf(sserr.CodeUnsupportedAlgorithm,
			"idtoken: algorithm %q is not supported, want %s", alg, algorithm).WithDetail("alg", alg)
	}
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeTokenMalformed, "idtoken: token is malformed")
	}

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return "", sserr.New(sserr.CodeTokenMalformed, "idtoken: token header has no kid")
	}
	return kid, nil
}

// validate applies the claim policy. The first failing check wins.
func (v *Verifier) validate(c *Claims, projectID string, now time.Time) error {
	leeway := v.config.Leeway

	if want := fmt.Sprintf(v.config.IssuerTemplate, projectID); c.Issuer != want {
		return claimError(sserr.CodeWrongIssuer, "iss",
			fmt.Sprintf("idtoken: issuer %q does not match %q", c.Issuer, want))
	}
	if c.Audience != projectID {
		return claimError(sserr.CodeWrongAudience, "aud",
			fmt.Sprintf("idtoken: audience %q does not match project %q", c.Audience, projectID))
	}
	if !c.ExpiresAt.After(now.Add(-leeway)) {
		return claimError(sserr.CodeExpiredToken, "exp",
			fmt.Sprintf("idtoken: token expired at %s", c.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	if c.IssuedAt.After(now.Add(leeway)) {
		return claimError(sserr.CodeNotYetValid, "iat",
			fmt.Sprintf("idtoken: token issued in the future at %s", c.IssuedAt.UTC().Format(time.RFC3339)))
	}
	if !c.AuthTime.IsZero() && c.AuthTime.After(now.Add(leeway)) {
		return claimError(sserr.CodeNotYetValid, "auth_time",
			fmt.Sprintf("idtoken: authentication time %s is in the future", c.AuthTime.UTC().Format(time.RFC3339)))
	}
	if c.Subject == "" {
		return claimError(sserr.CodeMissingSubject, "sub", "idtoken: subject is empty")
	}
	return nil
}

func claimError(code sserr.Code, claim, message string) error {
	return sserr.New(code, message).WithDetail("claim", claim)
}
