package app

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-fireauth/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/credentials"
	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/idtoken"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/keys"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/token"
)

// Config configures an [App]. Load it with pkg/config; with the default
// prefix the nested token margin is FIREAUTH_TOKEN_MARGIN and the Redis
// host is FIREAUTH_REDIS_HOST.
//
//	cfg := config.MustLoad[app.Config](config.New().WithFile("fireauth.yaml"))
//	a, err := app.New(ctx, cfg)
type Config struct {
	// CredentialsFile is the path of a service-account JSON document.
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file" env:"CREDENTIALS_FILE"`

	// CredentialsJSON is an inline service-account document, for
	// deployments that inject it as a secret environment variable.
	CredentialsJSON credentials.Secret `json:"credentials_json" yaml:"credentials_json" env:"CREDENTIALS_JSON"`

	// ProjectID overrides the project id of the credential as the
	// expected ID token audience.
	ProjectID string `json:"project_id" yaml:"project_id" env:"PROJECT_ID"`

	// SharedKeyCache shares the public key set between processes through
	// Redis. The Redis section is only used when it is set.
	SharedKeyCache bool `json:"shared_key_cache" yaml:"shared_key_cache" env:"SHARED_KEY_CACHE" envDefault:"false"`

	// SharedKeyCacheKey is the Redis key of the shared key set. Defaults
	// to keys.DefaultRedisKey.
	SharedKeyCacheKey string `json:"shared_key_cache_key" yaml:"shared_key_cache_key" env:"SHARED_KEY_CACHE_KEY"`

	Token      token.Config           `json:"token" yaml:"token" env:"TOKEN"`
	SelfSigned token.SelfSignedConfig `json:"self_signed" yaml:"self_signed" env:"SELF_SIGNED"`
	Keys       keys.Config            `json:"keys" yaml:"keys" env:"KEYS"`
	IDToken    idtoken.Config         `json:"idtoken" yaml:"idtoken" env:"IDTOKEN"`
	Redis      redis.Config           `json:"redis" yaml:"redis" env:"REDIS"`

	// Clock, Logger and TracerProvider are passed down to every component
	// whose own config leaves them unset.
	Clock          func() time.Time     `json:"-" yaml:"-"`
	Logger         *slog.Logger         `json:"-" yaml:"-"`
	TracerProvider trace.TracerProvider `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with every component at its defaults
// and no credential source.
func DefaultConfig() Config {
	return Config{
		Token:      token.DefaultConfig(),
		SelfSigned: token.DefaultSelfSignedConfig(),
		Keys:       keys.DefaultConfig(),
		IDToken:    idtoken.DefaultConfig(),
		Redis:      redis.DefaultConfig(),
	}
}

// Validate checks the credential source and every component config. The
// Redis section is only checked when SharedKeyCache is set. A missing
// credential source is reported by [New], since one may be injected with
// [WithServiceAccount].
func (c *Config) Validate() error {
	if c.CredentialsFile != "" && c.CredentialsJSON != "" {
		return sserr.Validation("app: set only one of credentials file and credentials JSON")
	}
	if err := c.Token.Validate(); err != nil {
		return err
	}
	if err := c.SelfSigned.Validate(); err != nil {
		return err
	}
	if err := c.Keys.Validate(); err != nil {
		return err
	}
	if err := c.IDToken.Validate(); err != nil {
		return err
	}
	if c.SharedKeyCache {
		return c.Redis.Validate()
	}
	return nil
}

// inherit copies the shared clock, logger and tracer provider into the
// component configs that do not set their own.
func (c *Config) inherit(logger *slog.Logger) {
	if c.Token.Clock == nil {
		c.Token.Clock = c.Clock
	}
	if c.SelfSigned.Clock == nil {
		c.SelfSigned.Clock = c.Clock
	}
	if c.Keys.Clock == nil {
		c.Keys.Clock = c.Clock
	}
	if c.Token.Logger == nil {
		c.Token.Logger = logger
	}
	if c.Keys.Logger == nil {
		c.Keys.Logger = logger
	}
	if c.IDToken.Logger == nil {
		c.IDToken.Logger = logger
	}
	if c.Token.TracerProvider == nil {
		c.Token.TracerProvider = c.TracerProvider
	}
	if c.Keys.TracerProvider == nil {
		c.Keys.TracerProvider = c.TracerProvider
	}
	if c.IDToken.TracerProvider == nil {
		c.IDToken.TracerProvider = c.TracerProvider
	}
}
