package store

import (
	"context"
	"time"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// Blacklist records revoked token ids. An entry must outlive the token it
// revokes, so callers pass the longest token lifetime as ttl.
type Blacklist struct {
	c   cache.Cache
	now func() time.Time
}

// NewBlacklist returns a Blacklist over c.
func NewBlacklist(c cache.Cache, opts ...Option) *Blacklist {
	o := buildOptions(opts)
	return &Blacklist{c: c, now: o.now}
}

// Add revokes tokenID for ttl. Adding an id twice refreshes the entry.
func (b *Blacklist) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return sserr.Validation("store: blacklist entry requires a token id")
	}
	if ttl <= 0 {
		return sserr.Validationf("store: blacklist ttl must be positive, got %s", ttl)
	}
	return b.c.Set(ctx, BlacklistKey(tokenID), b.now().UTC().Format(time.RFC3339), ttl)
}

// Contains reports whether tokenID is revoked.
func (b *Blacklist) Contains(ctx context.Context, tokenID string) (bool, error) {
	return b.c.Exists(ctx, BlacklistKey(tokenID))
}

// Count returns the number of blacklist entries. It scans the keyspace.
func (b *Blacklist) Count(ctx context.Context) (int, error) {
	keys, err := b.c.Keys(ctx, BlacklistPrefix+"*")
	return len(keys), err
}
