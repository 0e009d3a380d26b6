package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/secrets"
)

// ===========================================================================
// Defaults
// ===========================================================================

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDB, cfg.DB)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultMinIdleConns, cfg.MinIdleConns)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
	assert.True(t, cfg.Password.IsZero())
	require.NoError(t, cfg.Validate())
}

func TestConfig_PasswordRedactedInFormatting(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Password = secrets.Secret("hunter2-but-longer")

	assert.NotContains(t, cfg.Password.String(), "hunter2")
	assert.Equal(t, "hunter2-but-longer", cfg.Password.Value())
}

// ===========================================================================
// Validate
// ===========================================================================

func TestConfig_Validate_ZeroValueGetsDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
}

func TestConfig_Validate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"negative port", Config{Port: -1}, "port"},
		{"port too high", Config{Port: 65536}, "port"},
		{"negative min idle", Config{MinIdleConns: -1}, "min_idle_conns"},
		{"pool smaller than idle", Config{PoolSize: 2, MinIdleConns: 10}, "pool_size"},
		{"negative dial timeout", Config{DialTimeout: -time.Second}, "timeouts"},
		{"negative read timeout", Config{ReadTimeout: -time.Second}, "timeouts"},
		{"negative write timeout", Config{WriteTimeout: -time.Second}, "timeouts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Validate_URI(t *testing.T) {
	t.Parallel()
	for _, uri := range []string{"redis://localhost:6379/0", "rediss://user:pw@cache.internal:6380/2"} {
		cfg := &Config{URI: uri, Port: -1}
		assert.NoError(t, cfg.Validate(), uri)
	}

	cfg := &Config{URI: "http://localhost:6379"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")

	cfg = &Config{URI: "localhost:6379"}
	assert.Error(t, cfg.Validate())
}

// ===========================================================================
// truncateStatement
// ===========================================================================

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", truncateStatement(""))
	assert.Equal(t, "GET k", truncateStatement("GET k"))

	exact := strings.Repeat("a", maxStatementTruncateLen)
	assert.Equal(t, exact, truncateStatement(exact))

	long := "DEL " + strings.Repeat("token:blacklist:x ", 20)
	got := truncateStatement(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, []rune(got), maxStatementTruncateLen+3)

	multi := strings.Repeat("é", maxStatementTruncateLen+5)
	assert.Len(t, []rune(truncateStatement(multi)), maxStatementTruncateLen+3)
}
