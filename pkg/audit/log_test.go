package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-tokens/internal/testutil"
	"github.com/StricklySoft/stricklysoft-tokens/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/lifecycle"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/store"
)

// fakeWriter records batches. When gate is set, Insert signals entered and
// waits for gate to close.
type fakeWriter struct {
	mu      sync.Mutex
	batches [][]Entry
	err     error

	gate    chan struct{}
	entered chan struct{}
}

func (w *fakeWriter) Insert(ctx context.Context, entries ...Entry) error {
	if w.gate != nil {
		select {
		case w.entered <- struct{}{}:
		default:
		}
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, append([]Entry(nil), entries...))
	return w.err
}

func (w *fakeWriter) sizes() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int, len(w.batches))
	for i, b := range w.batches {
		out[i] = len(b)
	}
	return out
}

func (w *fakeWriter) all() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Entry
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

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

func closeLog(t *testing.T, l *Log) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Close(ctx))
}

func TestNewLog_Validation(t *testing.T) {
	_, err := NewLog(nil, Config{})
	testutil.RequireErrorCode(t, err, sserr.CodeConfiguration)

	_, err = NewLog(&fakeWriter{}, Config{BatchSize: -1})
	testutil.RequireErrorCode(t, err, sserr.CodeConfiguration)
}

func TestConfig_Validate_Defaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1024, cfg.QueueSize)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, time.Second, cfg.FlushInterval)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)

	cfg = Config{WriteTimeout: -time.Second}
	assert.Error(t, cfg.Validate())
}

func TestLog_CloseFlushesQueuedEntries(t *testing.T) {
	w := &fakeWriter{}
	l, err := NewLog(w, Config{BatchSize: 10, FlushInterval: time.Hour})
	require.NoError(t, err)

	for range 3 {
		assert.True(t, l.Record(Entry{Kind: KindTransition, UserID: fixtures.UserID}))
	}
	closeLog(t, l)

	assert.Equal(t, []int{3}, w.sizes())
	assert.Equal(t, Stats{Recorded: 3, Written: 3}, l.Stats())
}

func TestLog_BatchSize(t *testing.T) {
	w := &fakeWriter{}
	l, err := NewLog(w, Config{BatchSize: 2, FlushInterval: time.Hour})
	require.NoError(t, err)

	for range 5 {
		l.Record(Entry{Kind: KindAlert, UserID: fixtures.UserID})
	}
	closeLog(t, l)

	assert.Equal(t, []int{2, 2, 1}, w.sizes())
}

func TestLog_FlushInterval(t *testing.T) {
	w := &fakeWriter{}
	l, err := NewLog(w, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer closeLog(t, l)

	l.Record(Entry{Kind: KindTransition, UserID: fixtures.UserID})
	assert.Eventually(t, func() bool { return len(w.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestLog_StampsMissingTime(t *testing.T) {
	w := &fakeWriter{}
	l, err := NewLog(w, Config{}, WithClock(func() time.Time { return fixtures.Epoch }))
	require.NoError(t, err)

	explicit := fixtures.Epoch.Add(-time.Hour)
	l.Record(Entry{Kind: KindTransition, UserID: fixtures.UserID})
	l.Record(Entry{Kind: KindTransition, UserID: fixtures.UserID, At: explicit})
	closeLog(t, l)

	got := w.all()
	require.Len(t, got, 2)
	assert.Equal(t, fixtures.Epoch, got[0].At)
	assert.Equal(t, explicit, got[1].At)
}

func TestLog_RecordAfterClose(t *testing.T) {
	l, err := NewLog(&fakeWriter{}, Config{})
	require.NoError(t, err)
	closeLog(t, l)
	closeLog(t, l)

	assert.False(t, l.Record(Entry{Kind: KindAlert, UserID: fixtures.UserID}))
	assert.Equal(t, int64(1), l.Stats().Dropped)
}

func TestLog_DropsWhenQueueFull(t *testing.T) {
	w := &fakeWriter{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	l, err := NewLog(w, Config{QueueSize: 1, BatchSize: 1, FlushInterval: time.Hour})
	require.NoError(t, err)

	require.True(t, l.Record(Entry{Kind: KindAlert, UserID: "first"}))
	select {
	case <-w.entered:
	case <-time.After(time.Second):
		t.Fatal("writer never started")
	}

	assert.True(t, l.Record(Entry{Kind: KindAlert, UserID: "queued"}))
	assert.False(t, l.Record(Entry{Kind: KindAlert, UserID: "dropped"}))

	close(w.gate)
	closeLog(t, l)

	assert.Equal(t, Stats{Recorded: 2, Dropped: 1, Written: 2}, l.Stats())
	var users []string
	for _, e := range w.all() {
		users = append(users, e.UserID)
	}
	assert.Equal(t, []string{"first", "queued"}, users)
}

func TestLog_WriteFailureIsLoggedAndCounted(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := &fakeWriter{err: sserr.New(sserr.CodeStorageUnavailable, "postgres: exec failed")}

	l, err := NewLog(w, Config{}, WithLogger(logger))
	require.NoError(t, err)
	l.Record(Entry{Kind: KindAlert, UserID: fixtures.UserID})
	l.Record(Entry{Kind: KindAlert, UserID: fixtures.UserID})
	closeLog(t, l)

	assert.Equal(t, int64(2), l.Stats().Failed)
	assert.Zero(t, l.Stats().Written)
	assert.Contains(t, buf.String(), `"msg":"audit batch write failed"`)
	assert.Contains(t, buf.String(), `"entries":2`)
}

func TestLog_CloseTimesOut(t *testing.T) {
	w := &fakeWriter{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	l, err := NewLog(w, Config{BatchSize: 1})
	require.NoError(t, err)
	defer close(w.gate)

	l.Record(Entry{Kind: KindAlert, UserID: fixtures.UserID})
	<-w.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = l.Close(ctx)
	testutil.RequireErrorCode(t, err, sserr.CodeStorageTimeout)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLog_OnTransition(t *testing.T) {
	w := &fakeWriter{}
	l, err := NewLog(w, Config{})
	require.NoError(t, err)

	l.OnTransition(lifecycle.Transition{
		TokenID:   "tok-1",
		UserID:    fixtures.UserID,
		SessionID: "sess-1",
		From:      lifecycle.StateActive,
		To:        lifecycle.StateRevoked,
		At:        fixtures.Epoch,
	})
	closeLog(t, l)

	assert.Equal(t, []Entry{{
		At:        fixtures.Epoch,
		Kind:      KindTransition,
		UserID:    fixtures.UserID,
		TokenID:   "tok-1",
		SessionID: "sess-1",
		FromState: "active",
		ToState:   "revoked",
	}}, w.all())
}

func TestLog_OnAlert(t *testing.T) {
	w := &fakeWriter{}
	l, err := NewLog(w, Config{})
	require.NoError(t, err)

	details := map[string]any{"token_id": "tok-9", "session_id": "sess-9", "ip": fixtures.IP}
	l.OnAlert(store.Alert{
		UserID:    fixtures.UserID,
		AlertType: "refresh_token_reuse",
		Timestamp: fixtures.Epoch,
		Severity:  store.SeverityHigh,
		Details:   details,
	})
	closeLog(t, l)

	got := w.all()
	require.Len(t, got, 1)
	assert.Equal(t, KindAlert, got[0].Kind)
	assert.Equal(t, "tok-9", got[0].TokenID)
	assert.Equal(t, "sess-9", got[0].SessionID)
	assert.Equal(t, "high", got[0].Severity)
	assert.Equal(t, details, got[0].Details)
	assert.Empty(t, got[0].FromState)
}

func TestAlertEntry_WithoutIDs(t *testing.T) {
	e := AlertEntry(store.Alert{
		UserID:    fixtures.UserID,
		AlertType: "suspicious_activity",
		Severity:  store.SeverityMedium,
		Details:   map[string]any{"request_count": 11},
	})
	assert.Empty(t, e.TokenID)
	assert.Empty(t, e.SessionID)
	assert.Equal(t, "medium", e.Severity)
}
