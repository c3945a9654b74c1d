package keys

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// DefaultURL publishes the X.509 certificates that sign Firebase ID
// tokens, keyed by kid.
const DefaultURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// Default values applied by [DefaultConfig] and the config loader.
const (
	DefaultFallbackTTL    = time.Hour
	DefaultMaxTTL         = 24 * time.Hour
	DefaultRequestTimeout = 30 * time.Second
)

// HTTPClient is the subset of [http.Client] used to fetch key sets.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a [Cache].
type Config struct {
	// URL is the key-set endpoint. Ignored when Source is set.
	URL string `json:"url" yaml:"url" env:"URL" envDefault:"https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"`

	// FallbackTTL is the set lifetime used when the response carries no
	// usable Cache-Control max-age.
	FallbackTTL time.Duration `json:"fallback_ttl" yaml:"fallback_ttl" env:"FALLBACK_TTL" envDefault:"1h"`

	// MaxTTL caps any advertised lifetime.
	MaxTTL time.Duration `json:"max_ttl" yaml:"max_ttl" env:"MAX_TTL" envDefault:"24h"`

	// MissRefetchInterval is how old the cached set must be before an
	// unknown kid triggers a refetch. Zero lets every miss refetch once.
	MissRefetchInterval time.Duration `json:"miss_refetch_interval" yaml:"miss_refetch_interval" env:"MISS_REFETCH_INTERVAL" envDefault:"0s"`

	// RequestTimeout bounds one shared fetch. Zero disables the bound.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// Source overrides the default HTTP source built from URL, e.g. with
	// a [RedisSource].
	Source Source `json:"-" yaml:"-"`

	HTTPClient     HTTPClient           `json:"-" yaml:"-"`
	Clock          func() time.Time     `json:"-" yaml:"-"`
	Logger         *slog.Logger         `json:"-" yaml:"-"`
	TracerProvider trace.TracerProvider `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() Config {
	return Config{
		URL:            DefaultURL,
		FallbackTTL:    DefaultFallbackTTL,
		MaxTTL:         DefaultMaxTTL,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Source == nil && c.URL == "":
		return sserr.New(sserr.CodeValidationRequired, "keys: URL is required")
	case c.FallbackTTL < 0:
		return sserr.Validationf("keys: fallback TTL %s must not be negative", c.FallbackTTL)
	case c.MaxTTL <= 0:
		return sserr.Newf(sserr.CodeValidationRange, "keys: max TTL %s must be positive", c.MaxTTL)
	case c.FallbackTTL > c.MaxTTL:
		return sserr.Newf(sserr.CodeValidationRange,
			"keys: fallback TTL %s exceeds max TTL %s", c.FallbackTTL, c.MaxTTL)
	case c.MissRefetchInterval < 0:
		return sserr.Validationf("keys: miss refetch interval %s must not be negative", c.MissRefetchInterval)
	case c.RequestTimeout < 0:
		return sserr.Validationf("keys: request timeout %s must not be negative", c.RequestTimeout)
	}
	return nil
}
