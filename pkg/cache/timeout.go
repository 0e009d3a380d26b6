package cache

import (
	"context"
	"errors"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// DefaultTimeout bounds a single cache call when WithTimeout is given a
// non-positive duration.
const DefaultTimeout = 2 * time.Second

type timeoutCache struct {
	next    Cache
	timeout time.Duration
}

// WithTimeout wraps c so that every call runs under its own deadline of d,
// derived from the caller's context. Deadline failures become
// CodeCacheTimeout, other failures CodeCacheUnavailable; ErrMiss and
// errors already carrying a code pass through unchanged.
func WithTimeout(c Cache, d time.Duration) Cache {
	if d <= 0 {
		d = DefaultTimeout
	}
	if tc, ok := c.(*timeoutCache); ok {
		return &timeoutCache{next: tc.next, timeout: d}
	}
	return &timeoutCache{next: c, timeout: d}
}

func (t *timeoutCache) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	v, err := t.next.Get(ctx, key)
	return v, normalize(ctx, err, "cache: get failed")
}

func (t *timeoutCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return normalize(ctx, t.next.Set(ctx, key, value, ttl), "cache: set failed")
}

func (t *timeoutCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	ok, err := t.next.Exists(ctx, key)
	return ok, normalize(ctx, err, "cache: exists failed")
}

func (t *timeoutCache) Del(ctx context.Context, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return normalize(ctx, t.next.Del(ctx, keys...), "cache: del failed")
}

func (t *timeoutCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return normalize(ctx, t.next.Expire(ctx, key, ttl), "cache: expire failed")
}

func (t *timeoutCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	keys, err := t.next.Keys(ctx, pattern)
	return keys, normalize(ctx, err, "cache: keys failed")
}

func normalize(ctx context.Context, err error, msg string) error {
	if err == nil || errors.Is(err, ErrMiss) {
		return err
	}
	if _, ok := sserr.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeCacheTimeout, msg)
	}
	return sserr.Wrap(err, sserr.CodeCacheUnavailable, msg)
}
