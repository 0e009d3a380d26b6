package store

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// IndexEntry is one token in a user's index.
type IndexEntry struct {
	TokenID  string    `json:"tokenId"`
	IssuedAt time.Time `json:"issuedAt"`
}

// UserIndex tracks the tokens issued to each user, oldest first. Updates
// are read-modify-write and not atomic across processes.
type UserIndex struct {
	c cache.Cache
}

// NewUserIndex returns a UserIndex over c.
func NewUserIndex(c cache.Cache) *UserIndex {
	return &UserIndex{c: c}
}

// List returns the user's entries ordered by IssuedAt, oldest first.
func (x *UserIndex) List(ctx context.Context, userID string) ([]IndexEntry, error) {
	raw, err := x.c.Get(ctx, UserTokensKey(userID))
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []IndexEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternal, "store: corrupt token index for user %s", userID)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].IssuedAt.Before(entries[j].IssuedAt)
	})
	return entries, nil
}

// Put replaces the user's entries and sets the index ttl.
func (x *UserIndex) Put(ctx context.Context, userID string, entries []IndexEntry, ttl time.Duration) error {
	if len(entries) == 0 {
		return x.Clear(ctx, userID)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "store: failed to encode token index")
	}
	return x.c.Set(ctx, UserTokensKey(userID), string(data), ttl)
}

// Append adds entry to the end of the user's index and resets the ttl.
func (x *UserIndex) Append(ctx context.Context, userID string, entry IndexEntry, ttl time.Duration) error {
	entries, err := x.List(ctx, userID)
	if err != nil {
		return err
	}
	return x.Put(ctx, userID, append(entries, entry), ttl)
}

// Remove drops the given token ids from the user's index, keeping its
// ttl. It reports how many entries were removed.
func (x *UserIndex) Remove(ctx context.Context, userID string, tokenIDs ...string) (int, error) {
	entries, err := x.List(ctx, userID)
	if err != nil || len(entries) == 0 {
		return 0, err
	}
	kept := slices.DeleteFunc(slices.Clone(entries), func(e IndexEntry) bool {
		return slices.Contains(tokenIDs, e.TokenID)
	})
	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if len(kept) == 0 {
		return removed, x.Clear(ctx, userID)
	}
	return removed, x.Put(ctx, userID, kept, cache.KeepTTL)
}

// Clear deletes the user's index.
func (x *UserIndex) Clear(ctx context.Context, userID string) error {
	return x.c.Del(ctx, UserTokensKey(userID))
}
