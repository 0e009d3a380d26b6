package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-tokens/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/store"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

func TestActiveTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.mgr.IssueTokenPair(ctx, userClaims(), IssueOptions{DeviceFingerprint: "fp-a", GeoLocation: "DE"})
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	second := h.issue(t)
	h.clock.Advance(time.Second)
	third := h.issue(t)

	_, err = h.mgr.Verify(ctx, first.AccessToken, token.TypeAccess)
	require.NoError(t, err)
	require.NoError(t, h.mgr.Revoke(ctx, third.AccessToken))

	infos, err := h.mgr.ActiveTokens(ctx, fixtures.UserID)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, first.TokenID, infos[0].TokenID)
	assert.Equal(t, StateActive, infos[0].State)
	assert.Equal(t, "fp-a", infos[0].DeviceFingerprint)
	assert.Equal(t, "DE", infos[0].GeoLocation)
	assert.Equal(t, first.SessionID, infos[0].SessionID)

	assert.Equal(t, second.TokenID, infos[1].TokenID)
	assert.Equal(t, StateIssued, infos[1].State)
}

func TestActiveTokens_SkipsVanishedRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	pair := h.issue(t)
	require.NoError(t, h.mem.Del(ctx, store.MetadataKey(pair.TokenID)))

	infos, err := h.mgr.ActiveTokens(ctx, fixtures.UserID)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestActiveTokens_UnknownUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	infos, err := h.mgr.ActiveTokens(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.issue(t)
	pair := h.issue(t)
	require.NoError(t, h.mgr.Revoke(ctx, pair.AccessToken))

	stats, err := h.mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TrackedTokens)
	assert.Equal(t, 1, stats.RevokedTokens)
	assert.Zero(t, stats.Alerts)
	assert.Nil(t, stats.Detector, "the recording sink exposes no stats")
}
