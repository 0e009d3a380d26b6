// Package postgres is the PostgreSQL client behind the security audit log.
//
// The client exposes only what the audit trail does with a database:
// statements ([Client.Exec], [Client.Query]), all-or-nothing batches
// ([Client.InTx]) and a readiness check ([Client.Health]). Token state
// never lives here; it stays in the cache.
//
//	cfg := postgres.DefaultConfig()
//	cfg.Password = secrets.Secret(os.Getenv("TOKENS_AUDIT_DB_PASSWORD"))
//	client, err := postgres.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Each call opens a "postgres.<Op>" client span carrying db.system,
// db.name, db.operation and a truncated db.statement. Errors are
// [*sserr.Error] values: [sserr.CodeStorageTimeout] when the context
// expired or was canceled, [sserr.CodeStorageUnavailable] otherwise.
package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-tokens/pkg/clients/postgres"

// Pool is the part of [*pgxpool.Pool] the client drives. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Client is safe for concurrent use.
type Client struct {
	pool   Pool
	tracer trace.Tracer
	dbName string
}

// NewClient validates cfg, opens a pool and pings the server. Invalid
// settings or TLS material return CONFIG_001; an unreachable server
// returns UNAVAIL_002.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeConfiguration, "postgres: invalid configuration")
	}
	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeConfiguration, "postgres: invalid pool configuration")
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeStorageUnavailable, "postgres: failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sserr.Wrap(err, sserr.CodeStorageUnavailable, "postgres: failed to connect to database")
	}
	return NewFromPool(pool, &cfg), nil
}

// NewFromPool wraps an existing pool. cfg only names the database in
// spans and may be nil.
func NewFromPool(pool Pool, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		pool:   pool,
		tracer: otel.Tracer(tracerName),
		dbName: cfg.databaseName(),
	}
}

// Query runs a statement returning rows. The caller closes the rows.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, span := c.startSpan(ctx, "Query", sql)
	rows, err := c.pool.Query(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: query failed")
	}
	return rows, nil
}

// Exec runs a statement that returns no rows.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := c.startSpan(ctx, "Exec", sql)
	tag, err := c.pool.Exec(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return tag, wrapError(err, "postgres: exec failed")
	}
	return tag, nil
}

// InTx runs fn in a transaction under one "postgres.Tx" span. The
// transaction commits when fn returns nil and rolls back otherwise. A
// coded error from fn is returned unchanged; raw driver errors are
// classified.
func (c *Client) InTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	ctx, span := c.startSpan(ctx, "Tx", "BEGIN")
	defer func() { finishSpan(span, err) }()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return wrapError(err, "postgres: begin transaction failed")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		if _, ok := sserr.AsError(err); !ok {
			err = wrapError(err, "postgres: transaction failed")
		}
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return wrapError(err, "postgres: commit failed")
	}
	return nil
}

// Health pings the server, bounded by [DefaultHealthTimeout] when ctx has
// no deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "SELECT 1")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	err := c.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeStorageUnavailable, "postgres: health check failed")
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

func (c *Client) startSpan(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "postgres."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.name", c.dbName),
			attribute.String("db.operation", operation(sql)),
			attribute.String("db.statement", truncateSQL(sql)),
		),
	)
}

// operation is the statement's leading keyword, uppercased.
func operation(sql string) string {
	f := strings.Fields(sql)
	if len(f) == 0 {
		return ""
	}
	return strings.ToUpper(f[0])
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

func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeStorageTimeout, message)
	}
	return sserr.Wrap(err, sserr.CodeStorageUnavailable, message)
}
