// Package config loads fireauth configuration structs from struct-tag
// defaults, an optional YAML or JSON file, and environment variables, in
// that order of increasing priority:
//
//	envDefault struct tags  (lowest priority)
//	YAML/JSON config file
//	environment variables   (highest priority)
//
// # Struct Tags
//
//   - `env:"VAR_NAME"` maps the field to an environment variable. On a
//     nested struct it becomes a prefix for the struct's own fields.
//   - `envDefault:"value"` sets a default when the field is zero-valued.
//   - `required:"true"` fails validation if the field remains zero.
//
// File loading uses the `yaml` and `json` tags. Fields that cannot come
// from text (HTTP clients, loggers, clocks) should be tagged
// `json:"-" yaml:"-"` and carry no env tags; the loader leaves them alone.
//
// # Usage
//
//	cfg := config.MustLoad[app.Config](
//	    config.New().WithFile("fireauth.yaml"),
//	)
//
// With the default prefix, token.Config's `env:"MARGIN"` field nested
// under `env:"TOKEN"` reads FIREAUTH_TOKEN_MARGIN.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// DefaultEnvPrefix is the environment variable prefix used by [New].
const DefaultEnvPrefix = "FIREAUTH"

// LookupFunc resolves an environment variable. It has the signature of
// [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// Loader resolves a configuration struct from its layered sources.
// Loader is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	lookup    LookupFunc
}

// New creates a Loader that reads environment variables with the
// [DefaultEnvPrefix] prefix and no file.
func New() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookup:    os.LookupEnv,
	}
}

// WithEnvPrefix replaces the environment variable prefix. The prefix is
// uppercased; an empty prefix disables prefixing.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the path to a YAML (.yaml, .yml) or JSON (.json) file.
// A missing file is not an error. Paths containing ".." are rejected.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithLookup replaces the environment source. Tests use it to supply
// variables without touching the process environment.
func (l *Loader) WithLookup(lookup LookupFunc) *Loader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	l.lookup = lookup
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct, and
// then validates it: `required:"true"` fields must be non-zero and, if
// cfg implements [Validator], its Validate method must succeed.
//
// Loading failures carry [sserr.CodeInternalConfiguration]; validation
// failures carry [sserr.CodeValidationRequired] or the code returned by
// Validate ([sserr.CodeValidation] when it returns a plain error).
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()

	if err := applyDefaults(rv); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	lookup := l.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(rv, l.envPrefix, lookup); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// MustLoad loads a T and panics if loading or validation fails. Use it
// in main, where a bad configuration should stop the process.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	return nil
}
