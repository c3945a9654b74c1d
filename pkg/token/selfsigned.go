package token

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// DefaultSelfSignedAudience is the audience Firestore accepts for
// self-signed service-account JWTs.
const DefaultSelfSignedAudience = "https://firestore.googleapis.com/"

// SelfSignedCredential is a [Credential] that also exposes its OAuth2
// client id, carried as the uid claim. *credentials.ServiceAccount
// satisfies it.
type SelfSignedCredential interface {
	Credential
	ClientID() string
}

// SelfSignedConfig configures a [SelfSignedSource].
type SelfSignedConfig struct {
	// Audience is the aud claim, the API the JWT is presented to.
	Audience string `json:"audience" yaml:"audience" env:"AUDIENCE" envDefault:"https://firestore.googleapis.com/"`

	// Lifetime is exp - iat of each JWT. At most 1h.
	Lifetime time.Duration `json:"lifetime" yaml:"lifetime" env:"LIFETIME" envDefault:"1h"`

	// Margin is how long before exp a new JWT is signed. Must be shorter
	// than Lifetime.
	Margin time.Duration `json:"margin" yaml:"margin" env:"MARGIN" envDefault:"5m"`

	// Clock returns the current time. Defaults to [time.Now].
	Clock func() time.Time `json:"-" yaml:"-"`
}

// DefaultSelfSignedConfig returns a SelfSignedConfig populated with the
// package defaults.
func DefaultSelfSignedConfig() SelfSignedConfig {
	return SelfSignedConfig{
		Audience: DefaultSelfSignedAudience,
		Lifetime: DefaultAssertionLifetime,
		Margin:   DefaultMargin,
	}
}

// Validate checks the configuration.
func (c *SelfSignedConfig) Validate() error {
	switch {
	case c.Audience == "":
		return sserr.New(sserr.CodeValidationRequired, "token: self-signed audience is required")
	case c.Lifetime <= 0 || c.Lifetime > maxAssertionLifetime:
		return sserr.Newf(sserr.CodeValidationRange,
			"token: self-signed lifetime %s must be in (0, %s]", c.Lifetime, maxAssertionLifetime)
	case c.Margin < 0:
		return sserr.Validationf("token: self-signed margin %s must not be negative", c.Margin)
	case c.Margin >= c.Lifetime:
		return sserr.Newf(sserr.CodeValidationRange,
			"token: self-signed margin %s must be shorter than lifetime %s", c.Margin, c.Lifetime)
	}
	return nil
}

// SelfSignedSource hands out service-account JWTs that APIs such as
// Firestore accept as bearer tokens without a token endpoint exchange.
// A JWT is reused until it comes within Margin of its exp; the next call
// signs a replacement. No network call is made.
type SelfSignedSource struct {
	builder *AssertionBuilder
	margin  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	current *CachedToken
}

// NewSelfSignedSource validates cfg and returns a source for cred.
func NewSelfSignedSource(cred SelfSignedCredential, cfg SelfSignedConfig) (*SelfSignedSource, error) {
	if cred == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "token: credential is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &SelfSignedSource{
		builder: newSelfSignedBuilder(cred, cfg.Audience, cfg.Lifetime),
		margin:  cfg.Margin,
		now:     now,
	}, nil
}

// AccessToken returns the current JWT for an "Authorization: Bearer"
// header.
func (s *SelfSignedSource) AccessToken(ctx context.Context) (string, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token returns the cached JWT if it is more than the margin from exp,
// otherwise signs a new one. Errors are SIGN_001, or TIMEOUT_001/INT_001
// when ctx has already ended.
func (s *SelfSignedSource) Token(ctx context.Context) (*CachedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.current != nil && s.current.usableAt(now, s.margin) {
		return s.current, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, sserr.FromContext(err, "token: context ended before signing")
	}

	signed, err := s.builder.Build(now)
	if err != nil {
		return nil, err
	}
	// exp is whole seconds; expiry must not be later than what the JWT says.
	s.current = &CachedToken{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   time.Unix(now.Add(s.builder.lifetime).Unix(), 0),
	}
	return s.current, nil
}

// TokenSource adapts the source to [oauth2.TokenSource].
func (s *SelfSignedSource) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &selfSignedTokenSource{ctx: ctx, src: s}
}

type selfSignedTokenSource struct {
	ctx context.Context
	src *SelfSignedSource
}

func (t *selfSignedTokenSource) Token() (*oauth2.Token, error) {
	tok, err := t.src.Token(t.ctx)
	if err != nil {
		return nil, err
	}
	return tok.OAuth2(), nil
}
