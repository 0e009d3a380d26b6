package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is a single-process Cache backed by ttlcache. Expired entries are
// invisible immediately and reclaimed by a background sweep until Close.
type Memory struct {
	mu    sync.Mutex // serializes read-modify-write operations
	items *ttlcache.Cache[string, string]
}

var _ Cache = (*Memory)(nil)

// NewMemory returns a started Memory cache. Call Close to stop the sweep.
func NewMemory() *Memory {
	items := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go items.Start()
	return &Memory{items: items}
}

// Close stops the expiry sweep.
func (m *Memory) Close() error {
	m.items.Stop()
	return nil
}

// Get implements Cache.
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	item := m.items.Get(key)
	if item == nil {
		return "", ErrMiss
	}
	return item.Value(), nil
}

// Set implements Cache.
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl == KeepTTL {
		ttl = m.remaining(key)
	}
	m.items.Set(key, value, toItemTTL(ttl))
	return nil
}

// Exists implements Cache.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return m.items.Get(key) != nil, nil
}

// Del implements Cache.
func (m *Memory) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		m.items.Delete(k)
	}
	return nil
}

// Expire implements Cache.
func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.items.Get(key)
	if item == nil {
		return nil
	}
	m.items.Set(key, item.Value(), toItemTTL(ttl))
	return nil
}

// Keys implements Cache. Patterns use path.Match syntax, which covers the
// Redis glob forms the token packages use ("token:metadata:*").
func (m *Memory) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	for _, k := range m.items.Keys() {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok && m.items.Get(k) != nil {
			out = append(out, k)
		}
	}
	return out, nil
}

// remaining returns the key's remaining lifetime, or zero (no expiry) when
// the key is absent or never expires. Caller holds m.mu.
func (m *Memory) remaining(key string) time.Duration {
	item := m.items.Get(key)
	if item == nil || item.ExpiresAt().IsZero() {
		return 0
	}
	if d := time.Until(item.ExpiresAt()); d > 0 {
		return d
	}
	return time.Nanosecond
}

func toItemTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttlcache.NoTTL
	}
	return ttl
}
