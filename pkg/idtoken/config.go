package idtoken

import (
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// Default values applied by [DefaultConfig] and the config loader.
const (
	DefaultLeeway         = 5 * time.Second
	DefaultIssuerTemplate = "https://securetoken.google.com/%s"

	// maxLeeway keeps a misconfigured leeway from accepting tokens that
	// are meaningfully expired.
	maxLeeway = 5 * time.Minute
)

// Config configures a [Verifier].
type Config struct {
	// Leeway absorbs clock skew in the exp, iat and auth_time checks.
	Leeway time.Duration `json:"leeway" yaml:"leeway" env:"LEEWAY" envDefault:"5s"`

	// IssuerTemplate is formatted with the project id to produce the
	// expected iss claim. It must contain exactly one %s.
	IssuerTemplate string `json:"issuer_template" yaml:"issuer_template" env:"ISSUER_TEMPLATE" envDefault:"https://securetoken.google.com/%s"`

	Logger         *slog.Logger         `json:"-" yaml:"-"`
	TracerProvider trace.TracerProvider `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() Config {
	return Config{
		Leeway:         DefaultLeeway,
		IssuerTemplate: DefaultIssuerTemplate,
	}
}

// Validate checks the leeway range and the issuer template.
func (c *Config) Validate() error {
	switch {
	case c.Leeway < 0 || c.Leeway > maxLeeway:
		return sserr.Newf(sserr.CodeValidationRange,
			"idtoken: leeway %s must be between 0 and %s", c.Leeway, maxLeeway)
	case c.IssuerTemplate == "":
		return sserr.New(sserr.CodeValidationRequired, "idtoken: issuer template is required")
	case strings.Count(c.IssuerTemplate, "%") != 1 || !strings.Contains(c.IssuerTemplate, "%s"):
		return sserr.Validationf("idtoken: issuer template %q must contain exactly one %%s", c.IssuerTemplate)
	}
	return nil
}
