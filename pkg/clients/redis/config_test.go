package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDB, cfg.DB)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultMinIdleConns, cfg.MinIdleConns)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, "localhost:6379", cfg.addr())
}

func TestConfig_Validate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		code sserr.Code
	}{
		{name: "port too high", cfg: Config{Port: 70000}, code: sserr.CodeValidationRange},
		{name: "negative port", cfg: Config{Port: -1}, code: sserr.CodeValidationRange},
		{name: "negative db", cfg: Config{DB: -1}, code: sserr.CodeValidationRange},
		{name: "negative idle", cfg: Config{MinIdleConns: -1}, code: sserr.CodeValidation},
		{name: "pool below idle", cfg: Config{PoolSize: 2, MinIdleConns: 5}, code: sserr.CodeValidationRange},
		{name: "negative timeout", cfg: Config{ReadTimeout: -time.Second}, code: sserr.CodeValidation},
		{name: "bad scheme", cfg: Config{URI: "http://localhost:6379"}, code: sserr.CodeValidation},
		{name: "no scheme", cfg: Config{URI: "localhost:6379"}, code: sserr.CodeValidation},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.code, sserr.GetCode(err))
		})
	}
}

func TestConfig_Validate_URI(t *testing.T) {
	t.Parallel()

	for _, uri := range []string{"redis://localhost:6379/0", "rediss://:pw@cache.internal:6380/1"} {
		cfg := Config{URI: uri, Port: -5}
		assert.NoError(t, cfg.Validate(), uri)
	}
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "GET k", truncateStatement("GET k"))
	assert.Equal(t, "", truncateStatement(""))

	exact := strings.Repeat("a", maxStatementLen)
	assert.Equal(t, exact, truncateStatement(exact))

	long := strings.Repeat("é", maxStatementLen+5)
	got := truncateStatement(long)
	assert.Equal(t, strings.Repeat("é", maxStatementLen)+"...", got)
}
