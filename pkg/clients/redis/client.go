package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name.
const tracerName = "github.com/StricklySoft/stricklysoft-tokens/pkg/clients/redis"

// Cmdable is the subset of go-redis commands the Client uses. It is
// satisfied by *redis.Client and by mocks via NewFromClient.
type Cmdable interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Persist(ctx context.Context, key string) *redis.BoolCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var (
	_ Cmdable     = (*redis.Client)(nil)
	_ cache.Cache = (*Client)(nil)
)

// Client is a traced Redis cache. It is safe for concurrent use.
type Client struct {
	cmdable Cmdable
	config  *Config
	tracer  trace.Tracer
	dbIndex int
}

// NewClient validates cfg, connects and pings. Configuration problems are
// CodeConfiguration; an unreachable server is CodeCacheUnavailable.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeConfiguration, "redis: invalid configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeConfiguration, "redis: failed to parse connection URI")
		}
		opts.PoolSize = cfg.PoolSize
		opts.MinIdleConns = cfg.MinIdleConns
		opts.MaxRetries = cfg.MaxRetries
		opts.DialTimeout = cfg.DialTimeout
		opts.ReadTimeout = cfg.ReadTimeout
		opts.WriteTimeout = cfg.WriteTimeout
	} else {
		opts = &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password.Value(),
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	// Per-call deadlines come from cache.WithTimeout; let go-redis honor them.
	opts.ContextTimeoutEnabled = true

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Wrap(err, sserr.CodeCacheUnavailable, "redis: failed to connect to server")
	}

	return &Client{
		cmdable: rdb,
		config:  &cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: opts.DB,
	}, nil
}

// NewFromClient wraps an existing Cmdable, typically a mock. cfg may be nil.
func NewFromClient(cmdable Cmdable, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		cmdable: cmdable,
		config:  cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: cfg.DB,
	}
}

// Get returns the value at key, or cache.ErrMiss.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	ctx, span := c.startSpan(ctx, "Get", "GET "+key)
	val, err := c.cmdable.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return "", cache.ErrMiss
	}
	finishSpan(span, err)
	if err != nil {
		return "", wrapError(err, "redis: get failed")
	}
	return val, nil
}

// Set stores value at key. A ttl of cache.KeepTTL maps to SET ... KEEPTTL.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 && ttl != cache.KeepTTL {
		ttl = 0
	}
	ctx, span := c.startSpan(ctx, "Set", "SET "+key)
	err := c.cmdable.Set(ctx, key, value, ttl).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: set failed")
	}
	return nil
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := c.startSpan(ctx, "Exists", "EXISTS "+key)
	n, err := c.cmdable.Exists(ctx, key).Result()
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "redis: exists failed")
	}
	return n > 0, nil
}

// Del removes keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := c.startSpan(ctx, "Del", fmt.Sprintf("DEL %v", keys))
	err := c.cmdable.Del(ctx, keys...).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: del failed")
	}
	return nil
}

// Expire sets a ttl on key; a non-positive ttl removes the expiry.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ctx, span := c.startSpan(ctx, "Persist", "PERSIST "+key)
		err := c.cmdable.Persist(ctx, key).Err()
		finishSpan(span, err)
		if err != nil {
			return wrapError(err, "redis: persist failed")
		}
		return nil
	}

	ctx, span := c.startSpan(ctx, "Expire", fmt.Sprintf("EXPIRE %s %s", key, ttl))
	err := c.cmdable.Expire(ctx, key, ttl).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: expire failed")
	}
	return nil
}

// Keys walks the keyspace with SCAN and returns every key matching pattern.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "Keys", "SCAN MATCH "+pattern)

	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := c.cmdable.Scan(ctx, cursor, pattern, DefaultScanCount).Result()
		if err != nil {
			finishSpan(span, err)
			return nil, wrapError(err, "redis: scan failed")
		}
		out = append(out, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}

	span.SetAttributes(attribute.Int("db.redis.keys_matched", len(out)))
	finishSpan(span, nil)
	return out, nil
}

// Health pings the server, applying DefaultHealthTimeout when ctx has no
// deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeCacheUnavailable, "redis: health check failed")
	}
	return nil
}

// Close releases connection resources.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

func (c *Client) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies a Redis error. Deadline failures are retryable
// timeouts; everything else, cancellation included, is unavailability.
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeCacheTimeout, message)
	}
	return sserr.Wrap(err, sserr.CodeCacheUnavailable, message)
}
