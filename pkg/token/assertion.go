package token

import (
	"crypto/rsa"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// Credential is the key material an [AssertionBuilder] signs with.
// *credentials.ServiceAccount satisfies it.
type Credential interface {
	ClientEmail() string
	KeyID() string
	TokenURI() string
	PrivateKey() *rsa.PrivateKey
}

// AssertionBuilder signs OAuth2 JWT-bearer grant assertions. It holds no
// mutable state; Build is a pure function of the credential and now.
type AssertionBuilder struct {
	cred     Credential
	audience string
	scope    string
	lifetime time.Duration
	extra    map[string]any
}

// NewAssertionBuilder returns a builder for cred. scopes are space-joined
// into the scope claim; lifetime is exp - iat.
func NewAssertionBuilder(cred Credential, scopes []string, lifetime time.Duration) *AssertionBuilder {
	return &AssertionBuilder{
		cred:     cred,
		audience: cred.TokenURI(),
		scope:    strings.Join(scopes, " "),
		lifetime: lifetime,
	}
}

// newSelfSignedBuilder returns a builder for JWTs presented directly to
// audience instead of being exchanged. They carry no scope and add the
// credential's client id as uid.
func newSelfSignedBuilder(cred SelfSignedCredential, audience string, lifetime time.Duration) *AssertionBuilder {
	return &AssertionBuilder{
		cred:     cred,
		audience: audience,
		lifetime: lifetime,
		extra:    map[string]any{"uid": cred.ClientID()},
	}
}

// Build returns an RS256-signed assertion with iss and sub set to the
// client email, aud set to the token endpoint (or the self-signed
// audience), the configured scope, and iat/exp derived from now. The kid header carries the credential's key
// id when it has one.
func (b *AssertionBuilder) Build(now time.Time) (string, error) {
	key := b.cred.PrivateKey()
	if key == nil {
		return "", sserr.New(sserr.CodeSigning, "token: credential has no private key")
	}

	claims := jwt.MapClaims{
		"iss": b.cred.ClientEmail(),
		"sub": b.cred.ClientEmail(),
		"aud": b.audience,
		"iat": now.Unix(),
		"exp": now.Add(b.lifetime).Unix(),
	}
	if b.scope != "" {
		claims["scope"] = b.scope
	}
	for name, value := range b.extra {
		claims[name] = value
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid := b.cred.KeyID(); kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeSigning, "token: failed to sign assertion")
	}
	return signed, nil
}
