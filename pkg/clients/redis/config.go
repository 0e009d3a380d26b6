// Package redis is the Redis implementation of cache.Cache used by the
// token store in production. It wraps go-redis
// (github.com/redis/go-redis/v9) with OpenTelemetry spans and maps every
// failure to a coded *sserr.Error.
//
// # Configuration
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = secrets.Secret(os.Getenv("REDIS_PASSWORD"))
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	store := cache.WithTimeout(client, 500*time.Millisecond)
//
// For unit tests inject a mock [Cmdable] with [NewFromClient].
//
// # Errors
//
// A missing key is [cache.ErrMiss]. Deadline failures are
// [sserr.CodeCacheTimeout]; everything else is [sserr.CodeCacheUnavailable].
//
// # Tracing
//
// Every command opens a client span with db.system=redis and a statement
// truncated to 100 characters. Statements contain keys (token ids), never
// values.
package redis

import (
	"fmt"
	"net/url"
	"time"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/secrets"
)

// maxStatementTruncateLen bounds the db.statement attribute recorded on
// spans.
const maxStatementTruncateLen = 100

// Default connection settings.
const (
	DefaultHost          = "localhost"
	DefaultPort          = 6379
	DefaultDB            = 0
	DefaultPoolSize      = 25
	DefaultMinIdleConns  = 5
	DefaultMaxRetries    = 3
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 2 * time.Second
	DefaultWriteTimeout  = 2 * time.Second
	DefaultHealthTimeout = 5 * time.Second

	// DefaultScanCount is the COUNT hint passed to SCAN by Keys.
	DefaultScanCount = 100
)

// Config holds connection settings. Either URI or Host/Port is used; URI
// wins when both are set.
type Config struct {
	URI          string         `json:"uri,omitempty" yaml:"uri" env:"URI"`
	Host         string         `json:"host,omitempty" yaml:"host" env:"HOST" envDefault:"localhost"`
	Port         int            `json:"port,omitempty" yaml:"port" env:"PORT" envDefault:"6379"`
	DB           int            `json:"db" yaml:"db" env:"DB"`
	Password     secrets.Secret `json:"-" yaml:"password" env:"PASSWORD"`
	PoolSize     int            `json:"pool_size,omitempty" yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int            `json:"min_idle_conns,omitempty" yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	MaxRetries   int            `json:"max_retries,omitempty" yaml:"max_retries" env:"MAX_RETRIES"`
	DialTimeout  time.Duration  `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration  `json:"read_timeout,omitempty" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration  `json:"write_timeout,omitempty" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	TLSEnabled   bool           `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"TLS_ENABLED"`
}

// DefaultConfig returns a Config for a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate fills zero-valued pool and timeout settings with defaults and
// checks the rest.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	case c.MinIdleConns < 0:
		return fmt.Errorf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	case c.PoolSize < c.MinIdleConns:
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	case c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0:
		return fmt.Errorf("redis: config timeouts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
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

// truncateStatement shortens s to maxStatementTruncateLen runes.
func truncateStatement(s string) string {
	r := []rune(s)
	if len(r) <= maxStatementTruncateLen {
		return s
	}
	return string(r[:maxStatementTruncateLen]) + "..."
}
