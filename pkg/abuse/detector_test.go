package abuse

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-tokens/internal/testutil"
	"github.com/StricklySoft/stricklysoft-tokens/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache/cachetest"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/store"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	d     *Detector
	mem   *cache.Memory
	clock *testutil.Clock
	logs  *syncBuffer
}

func newHarness(t *testing.T, cfg Config, c cache.Cache) *harness {
	t.Helper()
	mem := cache.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })
	if c == nil {
		c = mem
	}
	h := &harness{mem: mem, clock: testutil.NewClock(fixtures.Epoch), logs: &syncBuffer{}}
	logger := slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	d, err := NewDetector(c, cfg, WithLogger(logger), WithClock(h.clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	h.d = d
	return h
}

func accessClaims(issuedAt time.Time) token.Claims {
	return token.Claims{
		UserID:    fixtures.UserID,
		TokenID:   "tok-1",
		SessionID: "sess-1",
		Type:      token.TypeAccess,
		IssuedAt:  issuedAt,
	}
}

func activity(claims token.Claims, at time.Time) Event {
	return Event{Kind: EventActivity, Claims: claims, IP: fixtures.IP, At: at, Method: "GET", Path: "/orders"}
}

// ===========================================================================
// Config
// ===========================================================================

func TestConfig_ValidateFillsDefaults(t *testing.T) {
	t.Parallel()
	var cfg Config
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_ValidateRejectsNegatives(t *testing.T) {
	t.Parallel()
	for _, cfg := range []Config{
		{Workers: -1},
		{QueueSize: -1},
		{ActivityThreshold: -1},
		{ActivityWindow: -time.Second},
		{AlertTTL: -time.Second},
	} {
		c := cfg
		assert.Error(t, c.Validate(), "%+v", cfg)
	}
}

func TestNewDetector_RequiresCache(t *testing.T) {
	t.Parallel()
	_, err := NewDetector(nil, DefaultConfig())
	testutil.RequireErrorCode(t, err, sserr.CodeConfiguration)
}

func TestNewDetector_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewDetector(cachetest.Wrap(nil), Config{Workers: -3})
	testutil.RequireErrorCode(t, err, sserr.CodeConfiguration)
}

// ===========================================================================
// Heuristics
// ===========================================================================

func TestAnalyze_LongSessionWarnsOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), nil)
	ctx := context.Background()

	claims := accessClaims(fixtures.Epoch.Add(-25 * time.Hour))
	require.NoError(t, h.d.Analyze(ctx, activity(claims, fixtures.Epoch)))

	assert.Contains(t, h.logs.String(), "long-lived access token in use")
	alerts, err := store.NewAlertStore(h.mem).List(ctx, fixtures.UserID)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAnalyze_FreshSessionNoWarning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), nil)

	claims := accessClaims(fixtures.Epoch.Add(-23 * time.Hour))
	require.NoError(t, h.d.Analyze(context.Background(), activity(claims, fixtures.Epoch)))

	assert.NotContains(t, h.logs.String(), "long-lived")
}

func TestAnalyze_RefreshTokenAgeIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), nil)

	claims := accessClaims(fixtures.Epoch.Add(-72 * time.Hour))
	claims.Type = token.TypeRefresh
	require.NoError(t, h.d.Analyze(context.Background(), activity(claims, fixtures.Epoch)))

	assert.NotContains(t, h.logs.String(), "long-lived")
}

func TestAnalyze_ActivityThreshold(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), nil)
	ctx := context.Background()
	claims := accessClaims(fixtures.Epoch)
	alerts := store.NewAlertStore(h.mem)

	// Ten requests in the window are tolerated.
	for i := 0; i < 10; i++ {
		require.NoError(t, h.d.Analyze(ctx, activity(claims, fixtures.Epoch.Add(time.Duration(i)*time.Second))))
	}
	list, err := alerts.List(ctx, fixtures.UserID)
	require.NoError(t, err)
	assert.Empty(t, list)

	// The eleventh raises an alert.
	at := fixtures.Epoch.Add(10 * time.Second)
	require.NoError(t, h.d.Analyze(ctx, activity(claims, at)))

	list, err = alerts.List(ctx, fixtures.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, AlertSuspiciousActivity, list[0].AlertType)
	assert.Equal(t, store.SeverityMedium, list[0].Severity)
	assert.True(t, list[0].Timestamp.Equal(at))
	assert.Equal(t, float64(11), list[0].Details["request_count"])

	ok, err := h.mem.Exists(ctx, store.AlertKey(fixtures.UserID, at))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, h.logs.String(), "security alert raised")
	assert.Equal(t, int64(1), h.d.Stats().Alerts)
}

func TestAnalyze_ActivityOutsideWindowForgotten(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), nil)
	ctx := context.Background()
	claims := accessClaims(fixtures.Epoch)

	// One request every minute never exceeds ten in five minutes.
	for i := 0; i < 30; i++ {
		require.NoError(t, h.d.Analyze(ctx, activity(claims, fixtures.Epoch.Add(time.Duration(i)*time.Minute))))
	}

	list, err := store.NewAlertStore(h.mem).List(ctx, fixtures.UserID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAnalyze_AlertsThrottledPerUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), nil)
	ctx := context.Background()
	claims := accessClaims(fixtures.Epoch)

	for i := 0; i < 20; i++ {
		require.NoError(t, h.d.Analyze(ctx, activity(claims, fixtures.Epoch.Add(time.Duration(i)*time.Second))))
	}
	stats := h.d.Stats()
	assert.Equal(t, int64(1), stats.Alerts)
	assert.Equal(t, int64(9), stats.Throttled)

	// After the interval the limiter admits another alert.
	h.clock.Advance(time.Minute)
	require.NoError(t, h.d.Analyze(ctx, activity(claims, fixtures.Epoch.Add(21*time.Second))))
	assert.Equal(t, int64(2), h.d.Stats().Alerts)
}

func TestAnalyze_RefreshReuseAlert(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), nil)
	ctx := context.Background()

	claims := accessClaims(fixtures.Epoch)
	claims.Type = token.TypeRefresh
	require.NoError(t, h.d.Analyze(ctx, Event{Kind: EventRefreshReuse, Claims: claims, IP: fixtures.IP, At: fixtures.Epoch}))

	list, err := store.NewAlertStore(h.mem).List(ctx, fixtures.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, AlertRefreshReuse, list[0].AlertType)
	assert.Equal(t, store.SeverityHigh, list[0].Severity)
	assert.Equal(t, "tok-1", list[0].Details["token_id"])
}

func TestAnalyze_AlertHandlers(t *testing.T) {
	t.Parallel()
	mem := cache.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })

	var (
		mu  sync.Mutex
		got []store.Alert
	)
	d, err := NewDetector(mem, DefaultConfig(),
		WithClock(testutil.NewClock(fixtures.Epoch).Now),
		WithAlertHandler(func(store.Alert) { panic("boom") }),
		WithAlertHandler(func(a store.Alert) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, a)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	claims := accessClaims(fixtures.Epoch)
	claims.Type = token.TypeRefresh
	require.NoError(t, d.Analyze(context.Background(), Event{Kind: EventRefreshReuse, Claims: claims, At: fixtures.Epoch}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1, "a panicking handler does not stop the others")
	assert.Equal(t, AlertRefreshReuse, got[0].AlertType)
	assert.Equal(t, fixtures.UserID, got[0].UserID)
	assert.Equal(t, fixtures.Epoch, got[0].Timestamp)
}

func TestAnalyze_UnknownKind(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), nil)
	err := h.d.Analyze(context.Background(), Event{Kind: EventKind(42)})
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
	assert.Equal(t, "unknown", EventKind(42).String())
}

func TestAnalyze_CacheFailureReturnsError(t *testing.T) {
	t.Parallel()
	f := cachetest.Wrap(nil).FailOn("", store.ActivityPrefix, sserr.New(sserr.CodeCacheUnavailable, "down"))
	h := newHarness(t, DefaultConfig(), f)

	err := h.d.Analyze(context.Background(), activity(accessClaims(fixtures.Epoch), fixtures.Epoch))
	testutil.RequireErrorCode(t, err, sserr.CodeCacheUnavailable)
}

// ===========================================================================
// Queue
// ===========================================================================

func TestSubmit_ProcessedAsynchronously(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), nil)
	claims := accessClaims(fixtures.Epoch)

	for i := 0; i < 11; i++ {
		require.True(t, h.d.Submit(activity(claims, fixtures.Epoch.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, h.d.Close())

	stats := h.d.Stats()
	assert.Equal(t, int64(11), stats.Submitted)
	assert.Equal(t, int64(11), stats.Processed)
	assert.Zero(t, stats.Dropped)
}

func TestSubmit_DropsWhenFull(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	cfg.EventTimeout = 2 * time.Second
	f := cachetest.Wrap(nil).StallOn("get", store.ActivityPrefix, 300*time.Millisecond)
	h := newHarness(t, cfg, f)

	accepted := 0
	for i := 0; i < 5; i++ {
		if h.d.Submit(activity(accessClaims(fixtures.Epoch), fixtures.Epoch)) {
			accepted++
		}
	}

	assert.LessOrEqual(t, accepted, 2)
	assert.Equal(t, int64(5-accepted), h.d.Stats().Dropped)
}

func TestSubmit_AfterCloseIsDropped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), nil)
	require.NoError(t, h.d.Close())
	require.NoError(t, h.d.Close())

	assert.False(t, h.d.Submit(activity(accessClaims(fixtures.Epoch), fixtures.Epoch)))
	assert.Equal(t, int64(1), h.d.Stats().Dropped)
}

func TestWorker_LogsFailures(t *testing.T) {
	t.Parallel()
	f := cachetest.Wrap(nil).FailOn("", store.ActivityPrefix, sserr.New(sserr.CodeCacheUnavailable, "down"))
	h := newHarness(t, DefaultConfig(), f)

	require.True(t, h.d.Submit(activity(accessClaims(fixtures.Epoch), fixtures.Epoch)))
	require.NoError(t, h.d.Close())

	assert.Contains(t, h.logs.String(), "abuse detection failed")
	assert.Equal(t, int64(1), h.d.Stats().Processed)
}

func TestRequestInfoContext(t *testing.T) {
	t.Parallel()
	_, ok := RequestInfoFromContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithRequestInfo(context.Background(), RequestInfo{IP: fixtures.IP, Method: "POST", Path: "/refresh"})
	info, ok := RequestInfoFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, fixtures.IP, info.IP)
	assert.Equal(t, "/refresh", info.Path)
}
