package lifecycle

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/abuse"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/store"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

// Default manager settings.
const (
	DefaultMaxTokensPerUser = 5
	DefaultCacheTimeout     = 2 * time.Second
)

// Config holds the loadable manager settings.
type Config struct {
	// MaxTokensPerUser caps the live token pairs per user. Issuing past
	// the cap evicts the oldest pair.
	MaxTokensPerUser int `json:"max_tokens_per_user" yaml:"max_tokens_per_user" env:"MAX_TOKENS_PER_USER" envDefault:"5"`

	// CacheTimeout bounds every cache call.
	CacheTimeout time.Duration `json:"cache_timeout" yaml:"cache_timeout" env:"CACHE_TIMEOUT" envDefault:"2s"`
}

// Validate rejects non-positive values.
func (c *Config) Validate() error {
	if c.MaxTokensPerUser <= 0 {
		return sserr.Newf(sserr.CodeConfiguration, "lifecycle: max_tokens_per_user must be positive, got %d", c.MaxTokensPerUser)
	}
	if c.CacheTimeout <= 0 {
		return sserr.Newf(sserr.CodeConfiguration, "lifecycle: cache_timeout must be positive, got %s", c.CacheTimeout)
	}
	return nil
}

// EventSink receives activity and refresh-reuse events. *abuse.Detector
// implements it. Submit must not block.
type EventSink interface {
	Submit(ev abuse.Event) bool
}

// Transition describes one token state change.
type Transition struct {
	TokenID   string
	UserID    string
	SessionID string
	From      State
	To        State
	At        time.Time
}

// TransitionHandler is called after a token changes state. Handlers run
// synchronously on the calling goroutine and must not block.
type TransitionHandler func(Transition)

// ManagerBuilder constructs a [Manager]. Use [NewManagerBuilder] to start
// building.
//
// Example:
//
//	mgr, err := lifecycle.NewManagerBuilder(codec, redisClient).
//	    WithLogger(logger).
//	    WithDetector(detector).
//	    WithMaxTokensPerUser(5).
//	    Build()
type ManagerBuilder struct {
	codec    *token.Codec
	cache    cache.Cache
	cfg      Config
	logger   *slog.Logger
	sink     EventSink
	tp       trace.TracerProvider
	handlers []TransitionHandler
}

// NewManagerBuilder creates a builder over a codec and a cache. Both are
// checked in Build.
func NewManagerBuilder(codec *token.Codec, c cache.Cache) *ManagerBuilder {
	return &ManagerBuilder{
		codec: codec,
		cache: c,
		cfg: Config{
			MaxTokensPerUser: DefaultMaxTokensPerUser,
			CacheTimeout:     DefaultCacheTimeout,
		},
	}
}

// WithConfig replaces the quota and timeout settings.
func (b *ManagerBuilder) WithConfig(cfg Config) *ManagerBuilder {
	b.cfg = cfg
	return b
}

// WithMaxTokensPerUser sets the per-user quota.
func (b *ManagerBuilder) WithMaxTokensPerUser(n int) *ManagerBuilder {
	b.cfg.MaxTokensPerUser = n
	return b
}

// WithCacheTimeout sets the deadline applied to each cache call.
func (b *ManagerBuilder) WithCacheTimeout(d time.Duration) *ManagerBuilder {
	b.cfg.CacheTimeout = d
	return b
}

// WithLogger sets a custom logger. If not called, [slog.Default] is used.
func (b *ManagerBuilder) WithLogger(logger *slog.Logger) *ManagerBuilder {
	b.logger = logger
	return b
}

// WithDetector routes verification events to sink.
func (b *ManagerBuilder) WithDetector(sink EventSink) *ManagerBuilder {
	b.sink = sink
	return b
}

// WithTracerProvider sets the provider spans are created from. If not
// called, the global provider is used.
func (b *ManagerBuilder) WithTracerProvider(tp trace.TracerProvider) *ManagerBuilder {
	b.tp = tp
	return b
}

// OnTransition registers a handler called on every state transition.
// Handlers are called in registration order.
func (b *ManagerBuilder) OnTransition(handler TransitionHandler) *ManagerBuilder {
	b.handlers = append(b.handlers, handler)
	return b
}

// Build validates the configuration and constructs the Manager. Every
// failure is a configuration error.
func (b *ManagerBuilder) Build() (*Manager, error) {
	if b.codec == nil {
		return nil, sserr.Configuration("lifecycle: codec must not be nil")
	}
	if b.cache == nil {
		return nil, sserr.Configuration("lifecycle: cache must not be nil")
	}
	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := b.tp
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	signing := b.codec.Config()
	c := cache.WithTimeout(b.cache, cfg.CacheTimeout)
	clock := store.WithClock(b.codec.Now)

	handlers := make([]TransitionHandler, len(b.handlers))
	copy(handlers, b.handlers)

	return &Manager{
		codec:     b.codec,
		metadata:  store.NewMetadataStore(c, clock),
		blacklist: store.NewBlacklist(c, clock),
		index:     store.NewUserIndex(c),
		alerts:    store.NewAlertStore(c),
		sink:      b.sink,
		logger:    logger,
		tracer:    tp.Tracer(tracerName),
		cfg:       cfg,
		retention: signing.MaxLifetime(),
		handlers:  handlers,
	}, nil
}
