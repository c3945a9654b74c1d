// Package redis is a thin, traced wrapper over go-redis used to share
// fetched key-set documents between processes.
//
// Only the handful of commands the key cache needs are exposed. Every
// command runs inside an OpenTelemetry client span and every failure is
// returned as a classified *errors.Error: a deadline becomes TIMEOUT_001,
// anything else UNAVAIL_001. A missing key is still reported through
// [IsNil] so callers can tell a cache miss from an outage.
//
//	cfg := redis.DefaultConfig()
//	cfg.URI = "redis://localhost:6379/0"
//	client, err := redis.NewClient(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Tests inject a fake with [NewFromClient].
package redis

import (
	"fmt"
	"net/url"
	"time"

	"github.com/StricklySoft/stricklysoft-fireauth/pkg/credentials"
	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// maxStatementLen bounds the db.statement attribute recorded on spans.
const maxStatementLen = 100

// Connection defaults.
const (
	DefaultHost          = "localhost"
	DefaultPort          = 6379
	DefaultDB            = 0
	DefaultPoolSize      = 10
	DefaultMinIdleConns  = 1
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 2 * time.Second
	DefaultWriteTimeout  = 2 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

// Config holds the Redis connection settings. A non-empty URI takes
// precedence over Host, Port, DB and Password.
// Commands are never retried by the client.
type Config struct {
	URI          string             `json:"uri,omitempty" yaml:"uri" env:"URI"`
	Host         string             `json:"host,omitempty" yaml:"host" env:"HOST" envDefault:"localhost"`
	Port         int                `json:"port,omitempty" yaml:"port" env:"PORT" envDefault:"6379"`
	DB           int                `json:"db" yaml:"db" env:"DB"`
	Password     credentials.Secret `json:"-" yaml:"password" env:"PASSWORD"`
	PoolSize     int                `json:"pool_size,omitempty" yaml:"pool_size" env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int                `json:"min_idle_conns,omitempty" yaml:"min_idle_conns" env:"MIN_IDLE_CONNS" envDefault:"1"`
	DialTimeout  time.Duration      `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration      `json:"read_timeout,omitempty" yaml:"read_timeout" env:"READ_TIMEOUT" envDefault:"2s"`
	WriteTimeout time.Duration      `json:"write_timeout,omitempty" yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"2s"`
	TLSEnabled   bool               `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"TLS_ENABLED"`
}

// DefaultConfig returns a Config for a local, unauthenticated server.
func DefaultConfig() Config {
	return Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate fills zero pool and timeout settings with defaults and checks
// the rest. Failures are VAL_001 or VAL_004 errors.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "redis: URI is invalid")
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return sserr.Validationf("redis: URI scheme must be redis or rediss, got %q", u.Scheme)
		}
		return nil
	}

	switch {
	case c.Port < 1 || c.Port > 65535:
		return sserr.Newf(sserr.CodeValidationRange, "redis: port must be between 1 and 65535, got %d", c.Port)
	case c.DB < 0:
		return sserr.Newf(sserr.CodeValidationRange, "redis: db must not be negative, got %d", c.DB)
	case c.MinIdleConns < 0:
		return sserr.Validationf("redis: min_idle_conns must not be negative, got %d", c.MinIdleConns)
	case c.PoolSize < c.MinIdleConns:
		return sserr.Newf(sserr.CodeValidationRange,
			"redis: pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	case c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0:
		return sserr.Validation("redis: timeouts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// addr is host:port for structured configuration.
func (c *Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementLen {
		return s
	}
	return string(runes[:maxStatementLen]) + "..."
}
