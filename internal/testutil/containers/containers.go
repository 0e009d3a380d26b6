//go:build integration

// Package containers provides testcontainers-go helpers for integration
// tests that need a real Redis or PostgreSQL.
//
// The helpers are gated behind the "integration" build tag so unit test
// builds never pull in Docker dependencies:
//
//	//go:build integration
//
// [StartRedis] starts a Redis 7 container and returns the container
// handle plus a redis:// connection string:
//
//	result, err := containers.StartRedis(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
//
// [StartPostgres] does the same for the audit log database; its
// ConnString carries sslmode=disable and goes straight into
// postgres.Config.URI.
package containers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// DefaultRedisImage is the container image used for Redis integration
// tests.
const DefaultRedisImage = "docker.io/redis:7-alpine"

// RedisResult holds a started Redis container and how to reach it. The
// caller terminates the container.
type RedisResult struct {
	// Container is the started Redis testcontainer.
	Container *tcredis.RedisContainer

	// ConnString is the redis:// URI (e.g., "redis://localhost:55679").
	ConnString string

	// Host and Port are ConnString split for config structs that take
	// them separately.
	Host string
	Port int
}

// StartRedis starts a Redis container with no authentication. If the
// connection string cannot be resolved the container is terminated
// before returning.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}

	u, err := url.Parse(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to parse redis connection string: %w", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: invalid redis port %q: %w", u.Port(), err)
	}

	return &RedisResult{
		Container:  container,
		ConnString: connStr,
		Host:       u.Hostname(),
		Port:       port,
	}, nil
}

// PostgreSQL container settings. The credentials only ever reach an
// ephemeral local container.
const (
	DefaultPostgresImage    = "docker.io/postgres:16-alpine"
	DefaultPostgresDatabase = "tokens_test"
	DefaultPostgresUser     = "testuser"
	DefaultPostgresPassword = "testpassword"
)

// PostgresResult holds a started PostgreSQL container. The caller
// terminates the container.
type PostgresResult struct {
	Container *tcpostgres.PostgresContainer

	// ConnString is a postgres:// URI with sslmode=disable.
	ConnString string
}

// StartPostgres starts a PostgreSQL 16 container and waits until it
// accepts connections.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		DefaultPostgresImage,
		tcpostgres.WithDatabase(DefaultPostgresDatabase),
		tcpostgres.WithUsername(DefaultPostgresUser),
		tcpostgres.WithPassword(DefaultPostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get postgres connection string: %w", err)
	}
	return &PostgresResult{Container: container, ConnString: connStr}, nil
}
