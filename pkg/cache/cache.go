// Package cache defines the key-value contract the token packages persist
// through, plus two building blocks around it: [WithTimeout], which bounds
// every call with its own deadline and normalizes errors, and [Memory], an
// in-process implementation backed by ttlcache.
//
// The Redis implementation lives in pkg/clients/redis.
//
// # Errors
//
// Get returns [ErrMiss] for an absent key. Every other failure from a
// [WithTimeout]-wrapped cache is an *sserr.Error with code
// [sserr.CodeCacheTimeout] or [sserr.CodeCacheUnavailable]. Callers on
// the verification path treat both as a denial.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist or has expired.
var ErrMiss = errors.New("cache: key not found")

// KeepTTL passed as the ttl to Set overwrites the value and keeps the
// key's remaining lifetime. It matches Redis SET ... KEEPTTL.
const KeepTTL time.Duration = -1

// Cache is the key-value contract. A ttl of zero means no expiry.
type Cache interface {
	// Get returns the value stored at key, or ErrMiss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key with the given ttl. KeepTTL preserves the
	// existing lifetime.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Del removes keys. Absent keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// Expire sets a new ttl on an existing key. Absent keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Keys returns every key matching a glob pattern. It walks the whole
	// keyspace, so it is reserved for statistics and administration.
	Keys(ctx context.Context, pattern string) ([]string, error)
}
