package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// Severity grades a security alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is a persisted security alert. Alerts are written once and left
// to expire.
type Alert struct {
	UserID    string         `json:"userId"`
	AlertType string         `json:"alertType"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
}

// AlertStore persists security alerts.
type AlertStore struct {
	c cache.Cache
}

// NewAlertStore returns an AlertStore over c.
func NewAlertStore(c cache.Cache) *AlertStore {
	return &AlertStore{c: c}
}

// Put writes a under AlertKey(a.UserID, a.Timestamp) and returns the key.
func (s *AlertStore) Put(ctx context.Context, a Alert, ttl time.Duration) (string, error) {
	if a.UserID == "" || a.AlertType == "" {
		return "", sserr.Validation("store: alert requires a user id and type")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternal, "store: failed to encode alert")
	}
	key := AlertKey(a.UserID, a.Timestamp)
	return key, s.c.Set(ctx, key, string(data), ttl)
}

// List returns the user's unexpired alerts, oldest first. It scans the
// keyspace and skips alerts that expire mid-scan.
func (s *AlertStore) List(ctx context.Context, userID string) ([]Alert, error) {
	keys, err := s.c.Keys(ctx, AlertPrefix+escapeGlob(userID)+":*")
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0, len(keys))
	for _, k := range keys {
		raw, err := s.c.Get(ctx, k)
		if errors.Is(err, cache.ErrMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var a Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeInternal, "store: corrupt alert %s", k)
		}
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
	return alerts, nil
}

// Count returns the number of stored alerts across all users.
func (s *AlertStore) Count(ctx context.Context) (int, error) {
	keys, err := s.c.Keys(ctx, AlertPrefix+"*")
	return len(keys), err
}
