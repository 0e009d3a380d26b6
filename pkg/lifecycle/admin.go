package lifecycle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/abuse"
)

// TokenInfo describes one live token pair for session listings.
type TokenInfo struct {
	TokenID           string    `json:"tokenId"`
	SessionID         string    `json:"sessionId"`
	DeviceID          string    `json:"deviceId,omitempty"`
	IP                string    `json:"ip,omitempty"`
	UserAgent         string    `json:"userAgent,omitempty"`
	DeviceFingerprint string    `json:"deviceFingerprint,omitempty"`
	GeoLocation       string    `json:"geoLocation,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	LastUsedAt        time.Time `json:"lastUsedAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
	State             State     `json:"state"`
}

// Stats summarizes the token keyspace.
type Stats struct {
	TrackedTokens int          `json:"trackedTokens"`
	RevokedTokens int          `json:"revokedTokens"`
	Alerts        int          `json:"alerts"`
	Detector      *abuse.Stats `json:"detector,omitempty"`
}

// ActiveTokens lists the user's live token pairs, oldest first. Expired
// and revoked entries still in the index are skipped.
func (m *Manager) ActiveTokens(ctx context.Context, userID string) ([]TokenInfo, error) {
	ctx, span := m.tracer.Start(ctx, "tokens.ActiveTokens",
		trace.WithAttributes(attribute.String("tokens.user_id", userID)),
	)
	defer span.End()

	entries, err := m.index.List(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := m.codec.Now()
	out := make([]TokenInfo, 0, len(entries))
	for _, e := range entries {
		rec, err := m.metadata.Get(ctx, e.TokenID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		state := stateOf(rec, now)
		if state.IsTerminal() {
			continue
		}
		out = append(out, TokenInfo{
			TokenID:           rec.TokenID,
			SessionID:         rec.SessionID,
			DeviceID:          rec.DeviceID,
			IP:                rec.IP,
			UserAgent:         rec.UserAgent,
			DeviceFingerprint: rec.DeviceFingerprint,
			GeoLocation:       rec.GeoLocation,
			CreatedAt:         rec.CreatedAt,
			LastUsedAt:        rec.LastUsedAt,
			ExpiresAt:         rec.ExpiresAt,
			State:             state,
		})
	}
	span.SetAttributes(attribute.Int("tokens.active", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// Stats counts metadata records, blacklist entries and alerts. It scans
// the keyspace and is meant for administrative endpoints.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	ctx, span := m.tracer.Start(ctx, "tokens.Stats")
	defer span.End()

	var (
		s   Stats
		err error
	)
	if s.TrackedTokens, err = m.metadata.Count(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Stats{}, err
	}
	if s.RevokedTokens, err = m.blacklist.Count(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Stats{}, err
	}
	if s.Alerts, err = m.alerts.Count(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Stats{}, err
	}
	if d, ok := m.sink.(interface{ Stats() abuse.Stats }); ok {
		ds := d.Stats()
		s.Detector = &ds
	}
	span.SetStatus(codes.Ok, "")
	return s, nil
}
