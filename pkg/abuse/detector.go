// Package abuse watches verified token use for signs of misuse. It runs
// off the request path: the lifecycle manager submits an Event after each
// successful verification and returns without waiting. The detector never
// denies a request; it logs and writes security alerts that operators
// act on.
//
// Two heuristics run on activity events:
//
//   - an access token older than Config.LongSessionAge logs a warning;
//   - more than Config.ActivityThreshold verified requests by one user
//     within Config.ActivityWindow writes a "suspicious_activity" alert.
//
// A refresh-token reuse event writes a high-severity
// "refresh_token_reuse" alert.
package abuse

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/store"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

// Alert types written by the detector.
const (
	AlertSuspiciousActivity = "suspicious_activity"
	AlertRefreshReuse       = "refresh_token_reuse"
)

// limiterIdleTTL is how long an unused per-user alert limiter is kept.
const limiterIdleTTL = 30 * time.Minute

// EventKind distinguishes what happened.
type EventKind int

const (
	// EventActivity is a successful verification.
	EventActivity EventKind = iota

	// EventRefreshReuse is an attempt to use a refresh token that was
	// already rotated or revoked.
	EventRefreshReuse
)

// String returns a log-friendly name.
func (k EventKind) String() string {
	switch k {
	case EventActivity:
		return "activity"
	case EventRefreshReuse:
		return "refresh_reuse"
	default:
		return "unknown"
	}
}

// Event is one observation submitted to the detector.
type Event struct {
	Kind      EventKind
	Claims    token.Claims
	IP        string
	UserAgent string
	Method    string
	Path      string
	At        time.Time
}

// Stats are the detector's counters.
type Stats struct {
	Submitted int64
	Dropped   int64
	Processed int64
	Alerts    int64
	Throttled int64
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock sets the time source used for event ages and limiters.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithAlertHandler registers h to receive every stored alert. Handlers run
// on the worker that raised the alert.
func WithAlertHandler(h func(store.Alert)) Option {
	return func(d *Detector) {
		if h != nil {
			d.handlers = append(d.handlers, h)
		}
	}
}

// Detector analyzes events on a pool of workers.
type Detector struct {
	cfg      Config
	feed     *store.ActivityFeed
	alerts   *store.AlertStore
	logger   *slog.Logger
	now      func() time.Time
	handlers []func(store.Alert)

	limiters *ttlcache.Cache[string, *rate.Limiter]

	mu     sync.RWMutex // guards closed against concurrent Submit/Close
	closed bool
	queue  chan Event
	wg     sync.WaitGroup

	submitted atomic.Int64
	dropped   atomic.Int64
	processed atomic.Int64
	raised    atomic.Int64
	throttled atomic.Int64
}

// NewDetector validates cfg and starts cfg.Workers workers. Every cache
// call is bounded by cfg.EventTimeout. Call Close to drain and stop.
func NewDetector(c cache.Cache, cfg Config, opts ...Option) (*Detector, error) {
	if c == nil {
		return nil, sserr.Configuration("abuse: cache is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeConfiguration, "abuse: invalid configuration")
	}

	c = cache.WithTimeout(c, cfg.EventTimeout)
	d := &Detector{
		cfg:    cfg,
		feed:   store.NewActivityFeed(c),
		alerts: store.NewAlertStore(c),
		logger: slog.Default(),
		now:    time.Now,
		limiters: ttlcache.New(
			ttlcache.WithTTL[string, *rate.Limiter](limiterIdleTTL),
		),
		queue: make(chan Event, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.limiters.Start()
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d, nil
}

// Submit enqueues ev without blocking. It returns false when the queue is
// full or the detector is closed; the event is then dropped.
func (d *Detector) Submit(ev Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return false
	}
	if ev.At.IsZero() {
		ev.At = d.now()
	}
	select {
	case d.queue <- ev:
		d.submitted.Add(1)
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Close stops accepting events, waits for queued events to be analyzed and
// releases the limiter cache. It is safe to call more than once.
func (d *Detector) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.limiters.Stop()
	return nil
}

// Stats returns a snapshot of the counters.
func (d *Detector) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Dropped:   d.dropped.Load(),
		Processed: d.processed.Load(),
		Alerts:    d.raised.Load(),
		Throttled: d.throttled.Load(),
	}
}

func (d *Detector) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.EventTimeout)
		if err := d.Analyze(ctx, ev); err != nil {
			d.logger.WarnContext(ctx, "abuse detection failed",
				"user_id", ev.Claims.UserID,
				"event", ev.Kind.String(),
				"error", err,
			)
		}
		cancel()
		d.processed.Add(1)
	}
}

// Analyze runs the heuristics for ev synchronously. Workers call it for
// queued events; it is exported for callers that want inline analysis.
func (d *Detector) Analyze(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = d.now()
	}
	switch ev.Kind {
	case EventActivity:
		return d.analyzeActivity(ctx, ev)
	case EventRefreshReuse:
		return d.raise(ctx, ev, AlertRefreshReuse, store.SeverityHigh, map[string]any{
			"token_id":   ev.Claims.TokenID,
			"session_id": ev.Claims.SessionID,
			"ip":         ev.IP,
			"user_agent": ev.UserAgent,
		})
	default:
		return sserr.Validationf("abuse: unknown event kind %d", int(ev.Kind))
	}
}

func (d *Detector) analyzeActivity(ctx context.Context, ev Event) error {
	c := ev.Claims
	if c.UserID == "" {
		return nil
	}

	if c.Type == token.TypeAccess {
		if age := c.Age(ev.At); age > d.cfg.LongSessionAge {
			d.logger.WarnContext(ctx, "long-lived access token in use",
				"user_id", c.UserID,
				"token_id", c.TokenID,
				"session_id", c.SessionID,
				"age", age.Round(time.Second).String(),
			)
		}
	}

	count, err := d.feed.Record(ctx, c.UserID, ev.At, d.cfg.ActivityWindow)
	if err != nil {
		return err
	}
	if count <= d.cfg.ActivityThreshold {
		return nil
	}
	return d.raise(ctx, ev, AlertSuspiciousActivity, store.SeverityMedium, map[string]any{
		"request_count": count,
		"window":        d.cfg.ActivityWindow.String(),
		"ip":            ev.IP,
		"user_agent":    ev.UserAgent,
		"method":        ev.Method,
		"path":          ev.Path,
	})
}

func (d *Detector) raise(ctx context.Context, ev Event, alertType string, sev store.Severity, details map[string]any) error {
	userID := ev.Claims.UserID
	if !d.limiter(userID, alertType).AllowN(d.now(), 1) {
		d.throttled.Add(1)
		d.logger.DebugContext(ctx, "security alert throttled",
			"user_id", userID,
			"alert_type", alertType,
		)
		return nil
	}

	alert := store.Alert{
		UserID:    userID,
		AlertType: alertType,
		Timestamp: ev.At,
		Severity:  sev,
		Details:   details,
	}
	key, err := d.alerts.Put(ctx, alert, d.cfg.AlertTTL)
	if err != nil {
		return err
	}
	d.raised.Add(1)
	for _, h := range d.handlers {
		d.callHandler(ctx, h, alert)
	}
	d.logger.WarnContext(ctx, "security alert raised",
		"user_id", userID,
		"alert_type", alertType,
		"severity", string(sev),
		"alert_key", key,
	)
	return nil
}

func (d *Detector) callHandler(ctx context.Context, h func(store.Alert), a store.Alert) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "alert handler panicked",
				"user_id", a.UserID,
				"alert_type", a.AlertType,
				"panic", r,
			)
		}
	}()
	h(a)
}

func (d *Detector) limiter(userID, alertType string) *rate.Limiter {
	key := userID + "|" + alertType
	if item := d.limiters.Get(key); item != nil {
		return item.Value()
	}
	item, _ := d.limiters.GetOrSet(key, rate.NewLimiter(rate.Every(d.cfg.AlertInterval), d.cfg.AlertBurst))
	return item.Value()
}
