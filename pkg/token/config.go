package token

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// Default values applied by [DefaultConfig] and the config loader.
const (
	DefaultMargin            = 5 * time.Minute
	DefaultAssertionLifetime = time.Hour
	DefaultRequestTimeout    = 30 * time.Second

	// maxAssertionLifetime is the longest exp - iat the OAuth2 JWT-bearer
	// grant accepts.
	maxAssertionLifetime = time.Hour
)

// DefaultScopes are the OAuth2 scopes requested for access tokens.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/firebase.messaging",
	"https://www.googleapis.com/auth/identitytoolkit",
	"https://www.googleapis.com/auth/userinfo.email",
}

// HTTPClient is the subset of [http.Client] the issuer needs. Inject a
// custom implementation for proxies, mTLS, or tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures an [Issuer].
type Config struct {
	// Margin is how long before expiry a cached token stops being handed
	// out and a refresh is triggered instead. Zero means tokens are used
	// until they expire.
	Margin time.Duration `json:"margin" yaml:"margin" env:"MARGIN" envDefault:"5m"`

	// AssertionLifetime is exp - iat of the signed assertion. At most 1h.
	AssertionLifetime time.Duration `json:"assertion_lifetime" yaml:"assertion_lifetime" env:"ASSERTION_LIFETIME" envDefault:"1h"`

	// RequestTimeout bounds one token endpoint round trip. It applies to
	// the shared refresh, not to individual waiters, who use their own
	// context. Zero disables the bound.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// Scopes are space-joined into the assertion's scope claim.
	Scopes []string `json:"scopes" yaml:"scopes" env:"SCOPES" envDefault:"https://www.googleapis.com/auth/cloud-platform,https://www.googleapis.com/auth/firebase.database,https://www.googleapis.com/auth/firebase.messaging,https://www.googleapis.com/auth/identitytoolkit,https://www.googleapis.com/auth/userinfo.email"`

	// HTTPClient performs token requests. Defaults to an [http.Client]
	// without its own timeout (RequestTimeout governs).
	HTTPClient HTTPClient `json:"-" yaml:"-"`

	// Clock returns the current time. Defaults to [time.Now].
	Clock func() time.Time `json:"-" yaml:"-"`

	// Logger receives refresh diagnostics. Defaults to [slog.Default].
	Logger *slog.Logger `json:"-" yaml:"-"`

	// TracerProvider creates the refresh span. Defaults to the global
	// provider.
	TracerProvider trace.TracerProvider `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() Config {
	return Config{
		Margin:            DefaultMargin,
		AssertionLifetime: DefaultAssertionLifetime,
		RequestTimeout:    DefaultRequestTimeout,
		Scopes:            append([]string(nil), DefaultScopes...),
	}
}

// Validate checks the configuration for invalid durations and an empty
// scope list.
func (c *Config) Validate() error {
	switch {
	case c.Margin < 0:
		return sserr.Validationf("token: margin %s must not be negative", c.Margin)
	case c.AssertionLifetime <= 0 || c.AssertionLifetime > maxAssertionLifetime:
		return sserr.Newf(sserr.CodeValidationRange,
			"token: assertion lifetime %s must be in (0, %s]", c.AssertionLifetime, maxAssertionLifetime)
	case c.RequestTimeout < 0:
		return sserr.Validationf("token: request timeout %s must not be negative", c.RequestTimeout)
	case len(c.Scopes) == 0:
		return sserr.New(sserr.CodeValidationRequired, "token: at least one scope is required")
	}
	return nil
}
