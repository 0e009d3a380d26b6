// Package cachetest provides a scriptable cache.Cache for tests that need
// to observe call order or inject failures and latency.
package cachetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
)

// Call records one cache operation.
type Call struct {
	Op  string
	Key string
}

// Faulty wraps a cache.Cache, recording every call and optionally failing
// or stalling operations whose key carries a given prefix.
type Faulty struct {
	next cache.Cache

	mu     sync.Mutex
	calls  []Call
	faults []fault
}

type fault struct {
	op     string // "" matches every op
	prefix string
	err    error
	delay  time.Duration
}

// Wrap returns a Faulty over next. A nil next wraps a fresh cache.Memory.
func Wrap(next cache.Cache) *Faulty {
	if next == nil {
		next = cache.NewMemory()
	}
	return &Faulty{next: next}
}

// FailOn makes op calls whose key starts with prefix return err. An empty
// op matches every operation.
func (f *Faulty) FailOn(op, prefix string, err error) *Faulty {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, fault{op: op, prefix: prefix, err: err})
	return f
}

// StallOn makes op calls whose key starts with prefix block for d or until
// the context is done, whichever comes first.
func (f *Faulty) StallOn(op, prefix string, d time.Duration) *Faulty {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, fault{op: op, prefix: prefix, delay: d})
	return f
}

// Reset clears injected faults and recorded calls.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = nil
	f.calls = nil
}

// Calls returns a copy of the recorded calls in order.
func (f *Faulty) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsWithPrefix returns recorded calls whose key starts with prefix.
func (f *Faulty) CallsWithPrefix(prefix string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.Key, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *Faulty) before(ctx context.Context, op, key string) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Key: key})
	var hit *fault
	for i := range f.faults {
		ft := f.faults[i]
		if (ft.op == "" || ft.op == op) && strings.HasPrefix(key, ft.prefix) {
			hit = &ft
			break
		}
	}
	f.mu.Unlock()

	if hit == nil {
		return nil
	}
	if hit.delay > 0 {
		select {
		case <-time.After(hit.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return hit.err
}

func (f *Faulty) Get(ctx context.Context, key string) (string, error) {
	if err := f.before(ctx, "get", key); err != nil {
		return "", err
	}
	return f.next.Get(ctx, key)
}

func (f *Faulty) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := f.before(ctx, "set", key); err != nil {
		return err
	}
	return f.next.Set(ctx, key, value, ttl)
}

func (f *Faulty) Exists(ctx context.Context, key string) (bool, error) {
	if err := f.before(ctx, "exists", key); err != nil {
		return false, err
	}
	return f.next.Exists(ctx, key)
}

func (f *Faulty) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := f.before(ctx, "del", k); err != nil {
			return err
		}
	}
	return f.next.Del(ctx, keys...)
}

func (f *Faulty) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := f.before(ctx, "expire", key); err != nil {
		return err
	}
	return f.next.Expire(ctx, key, ttl)
}

func (f *Faulty) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := f.before(ctx, "keys", pattern); err != nil {
		return nil, err
	}
	return f.next.Keys(ctx, pattern)
}
