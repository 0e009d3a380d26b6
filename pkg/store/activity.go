package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// ActivityFeed keeps a sliding window of request timestamps per user.
// Updates are read-modify-write; concurrent writers for one user may lose
// a sample, which only makes the count conservative.
type ActivityFeed struct {
	c cache.Cache
}

// NewActivityFeed returns an ActivityFeed over c.
func NewActivityFeed(c cache.Cache) *ActivityFeed {
	return &ActivityFeed{c: c}
}

// Record adds a sample at `at`, drops samples older than window and
// returns the number of samples left, the new one included.
func (f *ActivityFeed) Record(ctx context.Context, userID string, at time.Time, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, sserr.Validationf("store: activity window must be positive, got %s", window)
	}
	samples, err := f.load(ctx, userID)
	if err != nil {
		return 0, err
	}

	cutoff := at.Add(-window).UnixMilli()
	kept := samples[:0]
	for _, ms := range samples {
		if ms > cutoff {
			kept = append(kept, ms)
		}
	}
	kept = append(kept, at.UnixMilli())

	data, err := json.Marshal(kept)
	if err != nil {
		return 0, sserr.Wrap(err, sserr.CodeInternal, "store: failed to encode activity feed")
	}
	if err := f.c.Set(ctx, ActivityKey(userID), string(data), window); err != nil {
		return 0, err
	}
	return len(kept), nil
}

// Reset drops the user's feed.
func (f *ActivityFeed) Reset(ctx context.Context, userID string) error {
	return f.c.Del(ctx, ActivityKey(userID))
}

func (f *ActivityFeed) load(ctx context.Context, userID string) ([]int64, error) {
	raw, err := f.c.Get(ctx, ActivityKey(userID))
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var samples []int64
	if err := json.Unmarshal([]byte(raw), &samples); err != nil {
		// A corrupt feed only weakens detection; start over.
		return nil, nil
	}
	return samples, nil
}
