package lifecycle

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/abuse"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/secrets"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/store"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-tokens/pkg/lifecycle"

// lockStripes is the number of per-user mutexes guarding index updates.
const lockStripes = 64

// Denial reasons. They are logged and recorded on spans, never returned.
const (
	reasonMalformed       = "malformed"
	reasonSignature       = "invalid_signature"
	reasonExpired         = "expired"
	reasonTypeMismatch    = "type_mismatch"
	reasonIssuerMismatch  = "issuer_mismatch"
	reasonRevoked         = "revoked"
	reasonMetadataMissing = "metadata_missing"
	reasonInactive        = "inactive"
	reasonOwnerMismatch   = "owner_mismatch"
	reasonCache           = "cache_error"
)

// IssueOptions are per-login choices.
type IssueOptions struct {
	// RememberMe swaps the access token lifetime for the remember-me
	// lifetime.
	RememberMe bool

	// DeviceFingerprint and GeoLocation are recorded in the metadata.
	DeviceFingerprint string
	GeoLocation       string
}

// TokenPair is the result of issuing or refreshing.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenID          string    `json:"-"`
	SessionID        string    `json:"-"`
	AccessExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// Manager issues and verifies token pairs against a cache. It is safe for
// concurrent use. Construct it with [NewManagerBuilder].
type Manager struct {
	codec     *token.Codec
	metadata  *store.MetadataStore
	blacklist *store.Blacklist
	index     *store.UserIndex
	alerts    *store.AlertStore
	sink      EventSink
	logger    *slog.Logger
	tracer    trace.Tracer
	cfg       Config
	retention time.Duration
	handlers  []TransitionHandler

	locks [lockStripes]sync.Mutex
}

// Codec returns the codec tokens are signed with.
func (m *Manager) Codec() *token.Codec { return m.codec }

// IssueTokenPair signs an access and a refresh token sharing one fresh
// token id, records their metadata and indexes them under the user. When
// the user already holds MaxTokensPerUser live pairs, the oldest are
// revoked first. claims.SessionID is kept when set and generated
// otherwise; claims.TokenID is ignored.
func (m *Manager) IssueTokenPair(ctx context.Context, claims token.Claims, opts IssueOptions) (*TokenPair, error) {
	ctx, span := m.tracer.Start(ctx, "tokens.IssueTokenPair",
		trace.WithAttributes(
			attribute.String("tokens.user_id", claims.UserID),
			attribute.Bool("tokens.remember_me", opts.RememberMe),
		),
	)
	defer span.End()

	pair, err := m.issue(ctx, claims, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("tokens.token_id", pair.TokenID))
	span.SetStatus(codes.Ok, "")
	return pair, nil
}

// signedPair is a pair that has been signed but not yet recorded.
type signedPair struct {
	claims          token.Claims
	opts            IssueOptions
	access, refresh string
	ac, rc          token.Claims
}

func (m *Manager) issue(ctx context.Context, claims token.Claims, opts IssueOptions) (*TokenPair, error) {
	p, err := m.sign(claims, opts)
	if err != nil {
		return nil, err
	}
	unlock := m.lockUser(claims.UserID)
	defer unlock()
	return m.record(ctx, p)
}

func (m *Manager) sign(claims token.Claims, opts IssueOptions) (*signedPair, error) {
	if claims.UserID == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "lifecycle: user id is required")
	}

	tokenID, err := secrets.GenerateTokenID()
	if err != nil {
		return nil, sserr.GenerationFailed(err, "lifecycle: failed to generate token id")
	}
	claims.TokenID = tokenID
	if claims.SessionID == "" {
		claims.SessionID = uuid.NewString()
	}

	cfg := m.codec.Config()
	accessTTL := cfg.AccessTTL
	if opts.RememberMe {
		accessTTL = cfg.RememberMeTTL
	}

	access, ac, err := m.codec.Sign(claims, token.TypeAccess, accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, rc, err := m.codec.Sign(claims, token.TypeRefresh, cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &signedPair{claims: claims, opts: opts, access: access, refresh: refresh, ac: ac, rc: rc}, nil
}

// record enforces the quota, then stores and indexes p. The caller holds
// the user's lock.
func (m *Manager) record(ctx context.Context, p *signedPair) (*TokenPair, error) {
	claims, opts := p.claims, p.opts
	tokenID, ac, rc := claims.TokenID, p.ac, p.rc

	if err := m.enforceQuota(ctx, claims.UserID); err != nil {
		return nil, sserr.GenerationFailed(err, "lifecycle: failed to enforce token quota")
	}

	now := ac.IssuedAt
	rec := store.Record{
		TokenID:           tokenID,
		UserID:            claims.UserID,
		SessionID:         claims.SessionID,
		DeviceID:          claims.DeviceID,
		IP:                claims.IP,
		UserAgent:         claims.UserAgent,
		DeviceFingerprint: opts.DeviceFingerprint,
		GeoLocation:       opts.GeoLocation,
		CreatedAt:         now,
		LastUsedAt:        now,
		ExpiresAt:         latest(ac.ExpiresAt, rc.ExpiresAt),
		IsActive:          true,
	}
	if err := m.metadata.Put(ctx, rec, m.retention); err != nil {
		return nil, sserr.GenerationFailed(err, "lifecycle: failed to store token metadata")
	}
	if err := m.index.Append(ctx, claims.UserID, store.IndexEntry{TokenID: tokenID, IssuedAt: now}, m.retention); err != nil {
		return nil, sserr.GenerationFailed(err, "lifecycle: failed to index token")
	}

	m.logger.InfoContext(ctx, "token pair issued",
		"user_id", claims.UserID,
		"token_id", tokenID,
		"session_id", claims.SessionID,
		"remember_me", opts.RememberMe,
	)
	return &TokenPair{
		AccessToken:      p.access,
		RefreshToken:     p.refresh,
		TokenID:          tokenID,
		SessionID:        claims.SessionID,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: rc.ExpiresAt,
	}, nil
}

// enforceQuota drops dead index entries, then revokes the oldest live
// pairs until one slot is free. The caller holds the user's lock.
func (m *Manager) enforceQuota(ctx context.Context, userID string) error {
	entries, err := m.index.List(ctx, userID)
	if err != nil || len(entries) == 0 {
		return err
	}

	live := make([]store.IndexEntry, 0, len(entries))
	for _, e := range entries {
		rec, err := m.metadata.Get(ctx, e.TokenID)
		if err != nil {
			return err
		}
		if rec != nil && rec.IsActive {
			live = append(live, e)
		}
	}

	for len(live) >= m.cfg.MaxTokensPerUser {
		oldest := live[0]
		if err := m.kill(ctx, oldest.TokenID, StateRevoked); err != nil {
			return err
		}
		live = live[1:]
		m.logger.InfoContext(ctx, "token evicted by quota",
			"user_id", userID,
			"token_id", oldest.TokenID,
			"max_tokens_per_user", m.cfg.MaxTokensPerUser,
		)
	}

	if len(live) == len(entries) {
		return nil
	}
	return m.index.Put(ctx, userID, live, m.retention)
}

// Verify checks a token and its server-side state. The checks run in a
// fixed order: signature and claims, blacklist, metadata. Any failure,
// a cache error or timeout included, returns the generic
// CodeTokenVerificationFailed error. On success the metadata's last-use
// time is updated and an activity event is handed to the detector without
// waiting.
func (m *Manager) Verify(ctx context.Context, tokenStr string, typ token.Type) (*token.Claims, error) {
	ctx, span := m.tracer.Start(ctx, "tokens.Verify",
		trace.WithAttributes(attribute.String("tokens.type", typ.String())),
	)
	defer span.End()

	claims, _, err := m.check(ctx, span, tokenStr, typ)
	if err != nil {
		return nil, err
	}
	m.submit(ctx, abuse.EventActivity, claims)
	span.SetStatus(codes.Ok, "")
	return claims, nil
}

// check runs the verification pipeline and touches the record. Denials
// are logged and recorded on span.
func (m *Manager) check(ctx context.Context, span trace.Span, tokenStr string, typ token.Type) (*token.Claims, *store.Record, error) {
	fp := token.Fingerprint(tokenStr)

	claims, err := m.codec.Verify(tokenStr, typ)
	if err != nil {
		return nil, nil, m.deny(ctx, span, fp, nil, codecReason(err), err)
	}
	span.SetAttributes(
		attribute.String("tokens.user_id", claims.UserID),
		attribute.String("tokens.token_id", claims.TokenID),
	)

	revoked, err := m.blacklist.Contains(ctx, claims.TokenID)
	if err != nil {
		return nil, nil, m.deny(ctx, span, fp, claims, reasonCache, err)
	}
	if revoked {
		return nil, nil, m.deny(ctx, span, fp, claims, reasonRevoked, nil)
	}

	rec, err := m.metadata.Get(ctx, claims.TokenID)
	switch {
	case err != nil:
		return nil, nil, m.deny(ctx, span, fp, claims, reasonCache, err)
	case rec == nil:
		return nil, nil, m.deny(ctx, span, fp, claims, reasonMetadataMissing, nil)
	case !rec.IsActive:
		return nil, nil, m.deny(ctx, span, fp, claims, reasonInactive, nil)
	case rec.UserID != claims.UserID:
		return nil, nil, m.deny(ctx, span, fp, claims, reasonOwnerMismatch, nil)
	}

	firstUse := rec.UseCount == 0
	if err := m.metadata.Touch(ctx, claims.TokenID); err != nil {
		return nil, nil, m.deny(ctx, span, fp, claims, reasonCache, err)
	}
	if firstUse {
		m.transition(ctx, Transition{
			TokenID:   claims.TokenID,
			UserID:    claims.UserID,
			SessionID: claims.SessionID,
			From:      StateIssued,
			To:        StateActive,
		})
	}
	return claims, rec, nil
}

func (m *Manager) deny(ctx context.Context, span trace.Span, fp string, claims *token.Claims, reason string, cause error) error {
	attrs := []any{
		"token_fingerprint", fp,
		"reason", reason,
	}
	if claims != nil {
		attrs = append(attrs, "user_id", claims.UserID, "token_id", claims.TokenID)
	}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	m.logger.WarnContext(ctx, "token verification failed", attrs...)

	span.SetAttributes(attribute.String("tokens.deny_reason", reason))
	span.SetStatus(codes.Error, reason)
	return sserr.VerificationFailed()
}

// Refresh exchanges a refresh token for a new pair. The old token id is
// blacklisted and its record deactivated before the new pair is issued.
// The user's lock is held from the blacklist check until the new pair is
// indexed, so of two concurrent uses of one refresh token in this process
// exactly one succeeds. Presenting an already blacklisted refresh token
// fails like any other denial and additionally reports refresh-token
// reuse to the detector.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, opts IssueOptions) (*TokenPair, error) {
	ctx, span := m.tracer.Start(ctx, "tokens.Refresh")
	defer span.End()

	fp := token.Fingerprint(refreshToken)
	claims, err := m.codec.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil, m.deny(ctx, span, fp, nil, codecReason(err), err)
	}
	span.SetAttributes(
		attribute.String("tokens.user_id", claims.UserID),
		attribute.String("tokens.token_id", claims.TokenID),
	)

	unlock := m.lockUser(claims.UserID)
	defer unlock()

	revoked, err := m.blacklist.Contains(ctx, claims.TokenID)
	if err != nil {
		return nil, m.deny(ctx, span, fp, claims, reasonCache, err)
	}
	if revoked {
		m.logger.WarnContext(ctx, "refresh token reuse detected",
			"user_id", claims.UserID,
			"token_id", claims.TokenID,
			"session_id", claims.SessionID,
			"token_fingerprint", fp,
		)
		m.submit(ctx, abuse.EventRefreshReuse, claims)
		return nil, m.deny(ctx, span, fp, claims, reasonRevoked, nil)
	}

	rec, err := m.metadata.Get(ctx, claims.TokenID)
	switch {
	case err != nil:
		return nil, m.deny(ctx, span, fp, claims, reasonCache, err)
	case rec == nil:
		return nil, m.deny(ctx, span, fp, claims, reasonMetadataMissing, nil)
	case !rec.IsActive:
		return nil, m.deny(ctx, span, fp, claims, reasonInactive, nil)
	case rec.UserID != claims.UserID:
		return nil, m.deny(ctx, span, fp, claims, reasonOwnerMismatch, nil)
	}

	// Rotation: the old id must be dead before a new pair exists.
	if err := m.kill(ctx, claims.TokenID, StateRotated); err != nil {
		return nil, m.deny(ctx, span, fp, claims, reasonCache, err)
	}
	if _, err := m.index.Remove(ctx, claims.UserID, claims.TokenID); err != nil {
		m.logger.WarnContext(ctx, "failed to remove rotated token from index",
			"user_id", claims.UserID,
			"token_id", claims.TokenID,
			"error", err,
		)
	}

	next := token.Claims{
		UserID:      claims.UserID,
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		SessionID:   claims.SessionID,
		DeviceID:    claims.DeviceID,
		IP:          claims.IP,
		UserAgent:   claims.UserAgent,
	}
	if info, ok := abuse.RequestInfoFromContext(ctx); ok {
		if info.IP != "" {
			next.IP = info.IP
		}
		if info.UserAgent != "" {
			next.UserAgent = info.UserAgent
		}
	}
	if opts.DeviceFingerprint == "" {
		opts.DeviceFingerprint = rec.DeviceFingerprint
	}
	if opts.GeoLocation == "" {
		opts.GeoLocation = rec.GeoLocation
	}

	pair, err := m.reissue(ctx, next, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	m.logger.InfoContext(ctx, "token pair rotated",
		"user_id", claims.UserID,
		"session_id", claims.SessionID,
		"old_token_id", claims.TokenID,
		"token_id", pair.TokenID,
	)
	span.SetStatus(codes.Ok, "")
	return pair, nil
}

// reissue is issue for a caller that already holds the user's lock.
func (m *Manager) reissue(ctx context.Context, claims token.Claims, opts IssueOptions) (*TokenPair, error) {
	p, err := m.sign(claims, opts)
	if err != nil {
		return nil, err
	}
	return m.record(ctx, p)
}

// Revoke kills the token and its pair. The signature is checked but not
// the validity window, so expired tokens can be revoked. Revoking twice
// is not an error. A token that fails the signature check returns the
// generic verification error.
func (m *Manager) Revoke(ctx context.Context, tokenStr string) error {
	ctx, span := m.tracer.Start(ctx, "tokens.Revoke")
	defer span.End()

	claims, err := m.codec.Decode(tokenStr)
	if err != nil {
		return m.deny(ctx, span, token.Fingerprint(tokenStr), nil, codecReason(err), err)
	}
	span.SetAttributes(
		attribute.String("tokens.user_id", claims.UserID),
		attribute.String("tokens.token_id", claims.TokenID),
	)

	unlock := m.lockUser(claims.UserID)
	defer unlock()

	if err := m.kill(ctx, claims.TokenID, StateRevoked); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if _, err := m.index.Remove(ctx, claims.UserID, claims.TokenID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	m.logger.InfoContext(ctx, "token revoked",
		"user_id", claims.UserID,
		"token_id", claims.TokenID,
		"session_id", claims.SessionID,
	)
	span.SetStatus(codes.Ok, "")
	return nil
}

// RevokeAll revokes every indexed token of the user and clears the index.
// It returns the number of token ids revoked.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int, error) {
	ctx, span := m.tracer.Start(ctx, "tokens.RevokeAll",
		trace.WithAttributes(attribute.String("tokens.user_id", userID)),
	)
	defer span.End()

	if userID == "" {
		err := sserr.New(sserr.CodeValidationRequired, "lifecycle: user id is required")
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	unlock := m.lockUser(userID)
	defer unlock()

	entries, err := m.index.List(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	for i, e := range entries {
		if err := m.kill(ctx, e.TokenID, StateRevoked); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return i, err
		}
	}
	if err := m.index.Clear(ctx, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return len(entries), err
	}

	m.logger.InfoContext(ctx, "all tokens revoked",
		"user_id", userID,
		"count", len(entries),
	)
	span.SetAttributes(attribute.Int("tokens.revoked", len(entries)))
	span.SetStatus(codes.Ok, "")
	return len(entries), nil
}

// kill blacklists tokenID and deactivates its record, in that order, and
// reports the transition when the record changed.
func (m *Manager) kill(ctx context.Context, tokenID string, to State) error {
	rec, err := m.metadata.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if err := m.blacklist.Add(ctx, tokenID, m.retention); err != nil {
		return err
	}
	changed, err := m.metadata.Deactivate(ctx, tokenID)
	if err != nil {
		return err
	}
	if changed && rec != nil {
		m.transition(ctx, Transition{
			TokenID:   tokenID,
			UserID:    rec.UserID,
			SessionID: rec.SessionID,
			From:      stateOf(rec, m.codec.Now()),
			To:        to,
		})
	}
	return nil
}

func (m *Manager) transition(ctx context.Context, tr Transition) {
	if !ValidTransition(tr.From, tr.To) {
		m.logger.DebugContext(ctx, "token state transition skipped",
			"token_id", tr.TokenID,
			"from", tr.From.String(),
			"to", tr.To.String(),
		)
		return
	}
	tr.At = m.codec.Now()
	m.logger.DebugContext(ctx, "token state changed",
		"user_id", tr.UserID,
		"token_id", tr.TokenID,
		"from", tr.From.String(),
		"to", tr.To.String(),
	)
	for _, h := range m.handlers {
		m.callHandler(ctx, h, tr)
	}
}

func (m *Manager) callHandler(ctx context.Context, h TransitionHandler, tr Transition) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "transition handler panicked",
				"token_id", tr.TokenID,
				"panic", r,
			)
		}
	}()
	h(tr)
}

func (m *Manager) submit(ctx context.Context, kind abuse.EventKind, claims *token.Claims) {
	if m.sink == nil {
		return
	}
	ev := abuse.Event{Kind: kind, Claims: *claims, At: m.codec.Now()}
	if info, ok := abuse.RequestInfoFromContext(ctx); ok {
		ev.IP = info.IP
		ev.UserAgent = info.UserAgent
		ev.Method = info.Method
		ev.Path = info.Path
	}
	if !m.sink.Submit(ev) {
		m.logger.DebugContext(ctx, "abuse event dropped",
			"user_id", claims.UserID,
			"event", kind.String(),
		)
	}
}

func (m *Manager) lockUser(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &m.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// stateOf derives a token's state from its metadata record.
func stateOf(rec *store.Record, now time.Time) State {
	switch {
	case rec == nil:
		return StateExpired
	case !rec.IsActive:
		return StateRevoked
	case !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt):
		return StateExpired
	case rec.UseCount > 0:
		return StateActive
	default:
		return StateIssued
	}
}

func codecReason(err error) string {
	switch sserr.GetCode(err) {
	case sserr.CodeTokenExpired:
		return reasonExpired
	case sserr.CodeTokenInvalidSignature:
		return reasonSignature
	case sserr.CodeTokenTypeMismatch:
		return reasonTypeMismatch
	case sserr.CodeTokenIssuerMismatch:
		return reasonIssuerMismatch
	default:
		return reasonMalformed
	}
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
