package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/lifecycle"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/store"
)

// Writer stores a batch of entries. *Store satisfies it.
type Writer interface {
	Insert(ctx context.Context, entries ...Entry) error
}

// Stats are the log's counters.
type Stats struct {
	Recorded int64
	Dropped  int64
	Written  int64
	Failed   int64
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) {
		if l != nil {
			lg.logger = l
		}
	}
}

// WithClock sets the time stamped on entries recorded without one.
func WithClock(now func() time.Time) Option {
	return func(lg *Log) {
		if now != nil {
			lg.now = now
		}
	}
}

// Log writes entries asynchronously in batches.
type Log struct {
	cfg    Config
	w      Writer
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex // guards closed against concurrent Record/Close
	closed bool
	queue  chan Entry
	done   chan struct{}

	recorded atomic.Int64
	dropped  atomic.Int64
	written  atomic.Int64
	failed   atomic.Int64
}

// NewLog validates cfg and starts the writer. Call Close to flush and
// stop.
func NewLog(w Writer, cfg Config, opts ...Option) (*Log, error) {
	if w == nil {
		return nil, sserr.Configuration("audit: writer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeConfiguration, "audit: invalid configuration")
	}
	l := &Log{
		cfg:    cfg,
		w:      w,
		logger: slog.Default(),
		now:    time.Now,
		queue:  make(chan Entry, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l, nil
}

// Record enqueues e without blocking. It returns false when the queue is
// full or the log is closed.
func (l *Log) Record(e Entry) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return false
	}
	if e.At.IsZero() {
		e.At = l.now()
	}
	select {
	case l.queue <- e:
		l.recorded.Add(1)
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

// OnTransition records a lifecycle transition. It has the shape of
// [lifecycle.TransitionHandler].
func (l *Log) OnTransition(tr lifecycle.Transition) {
	if !l.Record(TransitionEntry(tr)) {
		l.logger.Warn("audit entry dropped",
			"kind", string(KindTransition),
			"token_id", tr.TokenID,
			"to", string(tr.To),
		)
	}
}

// OnAlert records a security alert. Pass it to abuse.WithAlertHandler.
func (l *Log) OnAlert(a store.Alert) {
	if !l.Record(AlertEntry(a)) {
		l.logger.Warn("audit entry dropped",
			"kind", string(KindAlert),
			"user_id", a.UserID,
			"alert_type", a.AlertType,
		)
	}
}

// Close stops accepting entries and waits until queued entries are
// written or ctx ends. It is safe to call more than once.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return sserr.Wrap(ctx.Err(), sserr.CodeStorageTimeout, "audit: close timed out before the queue drained")
	}
}

// Stats returns a snapshot of the counters.
func (l *Log) Stats() Stats {
	return Stats{
		Recorded: l.recorded.Load(),
		Dropped:  l.dropped.Load(),
		Written:  l.written.Load(),
		Failed:   l.failed.Load(),
	}
}

func (l *Log) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, l.cfg.BatchSize)
	for {
		select {
		case e, ok := <-l.queue:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= l.cfg.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (l *Log) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()

	n := int64(len(batch))
	if err := l.w.Insert(ctx, batch...); err != nil {
		l.failed.Add(n)
		l.logger.ErrorContext(ctx, "audit batch write failed",
			"entries", n,
			"error", err,
		)
		return
	}
	l.written.Add(n)
	l.logger.DebugContext(ctx, "audit batch written", "entries", n)
}
