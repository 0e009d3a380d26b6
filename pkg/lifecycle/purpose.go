package lifecycle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/store"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

// Default lifetimes of purpose-scoped tokens.
const (
	DefaultEmailVerificationTTL = 24 * time.Hour
	DefaultPasswordResetTTL     = time.Hour
)

// IssuePurposeToken signs a single-use token for an email verification or
// password reset. A non-positive ttl selects the type's default. Purpose
// tokens have their own token id and metadata but do not count toward
// the user's quota.
func (m *Manager) IssuePurposeToken(ctx context.Context, claims token.Claims, typ token.Type, ttl time.Duration) (string, *token.Claims, error) {
	ctx, span := m.tracer.Start(ctx, "tokens.IssuePurposeToken",
		trace.WithAttributes(
			attribute.String("tokens.user_id", claims.UserID),
			attribute.String("tokens.type", typ.String()),
		),
	)
	defer span.End()

	signed, sc, err := m.issuePurpose(ctx, claims, typ, ttl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}
	span.SetAttributes(attribute.String("tokens.token_id", sc.TokenID))
	span.SetStatus(codes.Ok, "")
	return signed, sc, nil
}

func (m *Manager) issuePurpose(ctx context.Context, claims token.Claims, typ token.Type, ttl time.Duration) (string, *token.Claims, error) {
	if !typ.IsPurpose() {
		return "", nil, sserr.Validationf("lifecycle: %q is not a purpose-scoped token type", typ)
	}
	if ttl <= 0 {
		ttl = DefaultEmailVerificationTTL
		if typ == token.TypePasswordReset {
			ttl = DefaultPasswordResetTTL
		}
	}
	if ttl > m.retention {
		return "", nil, sserr.Validationf("lifecycle: purpose token ttl %s exceeds the longest token lifetime %s", ttl, m.retention)
	}

	claims.TokenID = ""
	claims.Permissions = nil
	signed, sc, err := m.codec.Sign(claims, typ, ttl)
	if err != nil {
		return "", nil, err
	}

	rec := store.Record{
		TokenID:    sc.TokenID,
		UserID:     sc.UserID,
		SessionID:  sc.SessionID,
		Type:       typ,
		IP:         sc.IP,
		UserAgent:  sc.UserAgent,
		CreatedAt:  sc.IssuedAt,
		LastUsedAt: sc.IssuedAt,
		ExpiresAt:  sc.ExpiresAt,
		IsActive:   true,
	}
	if err := m.metadata.Put(ctx, rec, m.retention); err != nil {
		return "", nil, sserr.GenerationFailed(err, "lifecycle: failed to store token metadata")
	}

	m.logger.InfoContext(ctx, "purpose token issued",
		"user_id", sc.UserID,
		"token_id", sc.TokenID,
		"type", typ.String(),
	)
	return signed, &sc, nil
}

// ConsumePurposeToken verifies a purpose-scoped token and revokes it, so a
// second presentation fails. Failures return the generic verification
// error.
func (m *Manager) ConsumePurposeToken(ctx context.Context, tokenStr string, typ token.Type) (*token.Claims, error) {
	ctx, span := m.tracer.Start(ctx, "tokens.ConsumePurposeToken",
		trace.WithAttributes(attribute.String("tokens.type", typ.String())),
	)
	defer span.End()

	if !typ.IsPurpose() {
		err := sserr.Validationf("lifecycle: %q is not a purpose-scoped token type", typ)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	claims, rec, err := m.check(ctx, span, tokenStr, typ)
	if err != nil {
		return nil, err
	}
	if rec.Type != typ {
		return nil, m.deny(ctx, span, token.Fingerprint(tokenStr), claims, reasonTypeMismatch, nil)
	}

	// Two concurrent consumers in this process serialize on the user's
	// lock; the loser sees the blacklist entry.
	unlock := m.lockUser(claims.UserID)
	defer unlock()

	revoked, err := m.blacklist.Contains(ctx, claims.TokenID)
	if err != nil {
		return nil, m.deny(ctx, span, token.Fingerprint(tokenStr), claims, reasonCache, err)
	}
	if revoked {
		return nil, m.deny(ctx, span, token.Fingerprint(tokenStr), claims, reasonRevoked, nil)
	}
	if err := m.kill(ctx, claims.TokenID, StateRevoked); err != nil {
		return nil, m.deny(ctx, span, token.Fingerprint(tokenStr), claims, reasonCache, err)
	}

	m.logger.InfoContext(ctx, "purpose token consumed",
		"user_id", claims.UserID,
		"token_id", claims.TokenID,
		"type", typ.String(),
	)
	span.SetStatus(codes.Ok, "")
	return claims, nil
}
