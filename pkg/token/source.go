package token

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the issuer to [oauth2.TokenSource] so it can back an
// [oauth2.Transport] or gRPC per-RPC credentials. Every Token call goes
// through [Issuer.Token] with ctx, so caching and single-flight apply.
func (i *Issuer) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &issuerSource{ctx: ctx, issuer: i}
}

type issuerSource struct {
	ctx    context.Context
	issuer *Issuer
}

func (s *issuerSource) Token() (*oauth2.Token, error) {
	tok, err := s.issuer.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	return tok.OAuth2(), nil
}

// OAuth2 converts the token to an [oauth2.Token].
func (t *CachedToken) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		Expiry:      t.ExpiresAt,
	}
}
