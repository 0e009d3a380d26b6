//go:build integration

// Integration tests for the Redis cache that need Docker via
// testcontainers-go. Run with:
//
//	go test -v -race -tags=integration ./pkg/clients/redis/...
//
// One container is shared by the suite; tests isolate themselves with
// unique key prefixes.
package redis_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/stricklysoft-tokens/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// ===========================================================================
// Suite Definition
// ===========================================================================

type RedisIntegrationSuite struct {
	suite.Suite

	ctx         context.Context
	redisResult *containers.RedisResult
	client      *redis.Client
	connString  string
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartRedis(s.ctx)
	require.NoError(s.T(), err, "failed to start Redis container")
	s.redisResult = result
	s.connString = result.ConnString

	client, err := redis.NewClient(s.ctx, redis.Config{URI: result.ConnString, PoolSize: 10})
	require.NoError(s.T(), err, "failed to create Redis client")
	s.client = client
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.redisResult != nil {
		if err := s.redisResult.Container.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate redis container: %v", err)
		}
	}
}

func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisIntegrationSuite))
}

// ===========================================================================
// Connection Tests
// ===========================================================================

func (s *RedisIntegrationSuite) TestHealth_ReturnsNil() {
	require.NoError(s.T(), s.client.Health(s.ctx))
}

func (s *RedisIntegrationSuite) TestNewClient_HostPort() {
	client, err := redis.NewClient(s.ctx, redis.Config{
		Host: s.redisResult.Host,
		Port: s.redisResult.Port,
	})
	require.NoError(s.T(), err)
	defer client.Close()

	require.NoError(s.T(), client.Health(s.ctx))
}

func (s *RedisIntegrationSuite) TestNewClient_Unreachable() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	_, err := redis.NewClient(ctx, redis.Config{Host: "127.0.0.1", Port: 1, DialTimeout: 200 * time.Millisecond})
	require.Error(s.T(), err)
	assert.True(s.T(), sserr.HasCode(err, sserr.CodeCacheUnavailable))
}

// ===========================================================================
// Cache Contract Tests
// ===========================================================================

func (s *RedisIntegrationSuite) TestSet_And_Get() {
	key := "test:set_get:key1"
	require.NoError(s.T(), s.client.Set(s.ctx, key, `{"active":true}`, time.Minute))

	val, err := s.client.Get(s.ctx, key)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), `{"active":true}`, val)
}

func (s *RedisIntegrationSuite) TestGet_MissingKey() {
	_, err := s.client.Get(s.ctx, "test:get_missing:nope")
	assert.ErrorIs(s.T(), err, cache.ErrMiss)
}

func (s *RedisIntegrationSuite) TestExists_And_Del() {
	key := "test:exists_del:key1"
	require.NoError(s.T(), s.client.Set(s.ctx, key, "1", time.Minute))

	ok, err := s.client.Exists(s.ctx, key)
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)

	require.NoError(s.T(), s.client.Del(s.ctx, key, "test:exists_del:other"))

	ok, err = s.client.Exists(s.ctx, key)
	require.NoError(s.T(), err)
	assert.False(s.T(), ok)
}

func (s *RedisIntegrationSuite) TestSet_ExpiresAfterTTL() {
	key := "test:ttl:key1"
	require.NoError(s.T(), s.client.Set(s.ctx, key, "v", 1100*time.Millisecond))

	assert.Eventually(s.T(), func() bool {
		ok, err := s.client.Exists(s.ctx, key)
		return err == nil && !ok
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *RedisIntegrationSuite) TestSet_KeepTTLPreservesExpiry() {
	key := "test:keepttl:key1"
	require.NoError(s.T(), s.client.Set(s.ctx, key, "v1", 1100*time.Millisecond))
	require.NoError(s.T(), s.client.Set(s.ctx, key, "v2", cache.KeepTTL))

	val, err := s.client.Get(s.ctx, key)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "v2", val)

	assert.Eventually(s.T(), func() bool {
		_, err := s.client.Get(s.ctx, key)
		return err == cache.ErrMiss
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *RedisIntegrationSuite) TestExpire_ZeroPersists() {
	key := "test:persist:key1"
	require.NoError(s.T(), s.client.Set(s.ctx, key, "v", 1100*time.Millisecond))
	require.NoError(s.T(), s.client.Expire(s.ctx, key, 0))

	time.Sleep(1500 * time.Millisecond)
	ok, err := s.client.Exists(s.ctx, key)
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)
}

func (s *RedisIntegrationSuite) TestKeys_MatchesPattern() {
	for i := 0; i < 250; i++ {
		require.NoError(s.T(), s.client.Set(s.ctx, fmt.Sprintf("test:keys:u1:%03d", i), "x", time.Minute))
	}
	require.NoError(s.T(), s.client.Set(s.ctx, "test:keys:u2:000", "x", time.Minute))

	keys, err := s.client.Keys(s.ctx, "test:keys:u1:*")
	require.NoError(s.T(), err)

	sort.Strings(keys)
	// SCAN may repeat keys across pages; the keyspace here is static so
	// it does not.
	require.Len(s.T(), keys, 250)
	assert.Equal(s.T(), "test:keys:u1:000", keys[0])
	assert.Equal(s.T(), "test:keys:u1:249", keys[249])
}

// ===========================================================================
// Timeout Tests
// ===========================================================================

func (s *RedisIntegrationSuite) TestExpiredContext_IsTimeout() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	err := s.client.Set(ctx, "test:timeout:key1", "value", 0)
	require.Error(s.T(), err)
	assert.True(s.T(), sserr.IsTimeout(err))
	assert.True(s.T(), sserr.IsCacheFailure(err))
}

func (s *RedisIntegrationSuite) TestWithTimeout_Decorator() {
	c := cache.WithTimeout(s.client, 500*time.Millisecond)

	require.NoError(s.T(), c.Set(s.ctx, "test:decorated:key1", "v", time.Minute))
	val, err := c.Get(s.ctx, "test:decorated:key1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "v", val)
}

// ===========================================================================
// Close / Concurrency Tests
// ===========================================================================

func (s *RedisIntegrationSuite) TestClose_ReleasesResources() {
	client, err := redis.NewClient(s.ctx, redis.Config{URI: s.connString, PoolSize: 5})
	require.NoError(s.T(), err)
	require.NoError(s.T(), client.Health(s.ctx))

	require.NoError(s.T(), client.Close())
	assert.Error(s.T(), client.Health(s.ctx))
}

func (s *RedisIntegrationSuite) TestConcurrentOperations() {
	const numWorkers = 10
	var wg sync.WaitGroup
	errs := make(chan error, numWorkers)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("test:concurrent:key%d", n)
			if err := s.client.Set(s.ctx, key, fmt.Sprintf("val%d", n), 10*time.Minute); err != nil {
				errs <- err
				return
			}
			if _, err := s.client.Get(s.ctx, key); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(s.T(), err)
	}
}
