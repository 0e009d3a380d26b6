package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

// Record is the server-side state of an issued token. An access/refresh
// pair shares one record; Type is set only for purpose-scoped tokens.
type Record struct {
	TokenID           string     `json:"tokenId"`
	UserID            string     `json:"userId"`
	SessionID         string     `json:"sessionId"`
	Type              token.Type `json:"type,omitempty"`
	DeviceID          string     `json:"deviceId,omitempty"`
	IP                string     `json:"ip,omitempty"`
	UserAgent         string     `json:"userAgent,omitempty"`
	DeviceFingerprint string     `json:"deviceFingerprint,omitempty"`
	GeoLocation       string     `json:"geoLocation,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastUsedAt        time.Time  `json:"lastUsedAt"`
	UseCount          int64      `json:"useCount"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	IsActive          bool       `json:"isActive"`
	DeactivatedAt     *time.Time `json:"deactivatedAt,omitempty"`
}

// MetadataStore reads and writes Records.
type MetadataStore struct {
	c   cache.Cache
	now func() time.Time
}

// NewMetadataStore returns a MetadataStore over c.
func NewMetadataStore(c cache.Cache, opts ...Option) *MetadataStore {
	o := buildOptions(opts)
	return &MetadataStore{c: c, now: o.now}
}

// Put writes rec with the given ttl, replacing any previous record.
func (s *MetadataStore) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	if rec.TokenID == "" {
		return sserr.Validation("store: metadata record requires a token id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "store: failed to encode metadata record")
	}
	return s.c.Set(ctx, MetadataKey(rec.TokenID), string(data), ttl)
}

// Get returns the record for tokenID, or nil when none exists. An absent
// record means the token is not active.
func (s *MetadataStore) Get(ctx context.Context, tokenID string) (*Record, error) {
	raw, err := s.c.Get(ctx, MetadataKey(tokenID))
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternal, "store: corrupt metadata record %s", tokenID)
	}
	return &rec, nil
}

// Touch sets LastUsedAt to now and counts the use on an active record,
// keeping its TTL. Absent and inactive records are left alone.
func (s *MetadataStore) Touch(ctx context.Context, tokenID string) error {
	rec, err := s.Get(ctx, tokenID)
	if err != nil || rec == nil || !rec.IsActive {
		return err
	}
	rec.LastUsedAt = s.now()
	rec.UseCount++
	return s.write(ctx, rec)
}

// Deactivate marks the record inactive, keeping its TTL. It reports
// whether the record changed; absent or already inactive records are not
// an error.
func (s *MetadataStore) Deactivate(ctx context.Context, tokenID string) (bool, error) {
	rec, err := s.Get(ctx, tokenID)
	if err != nil || rec == nil || !rec.IsActive {
		return false, err
	}
	now := s.now()
	rec.IsActive = false
	rec.DeactivatedAt = &now
	if err := s.write(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Count returns the number of metadata records currently stored. It scans
// the keyspace.
func (s *MetadataStore) Count(ctx context.Context) (int, error) {
	keys, err := s.c.Keys(ctx, MetadataPrefix+"*")
	return len(keys), err
}

func (s *MetadataStore) write(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "store: failed to encode metadata record")
	}
	return s.c.Set(ctx, MetadataKey(rec.TokenID), string(data), cache.KeepTTL)
}
