package abuse

import (
	"fmt"
	"time"
)

// Config tunes the detector. Zero values are replaced by the defaults in
// Validate.
type Config struct {
	// Workers is the number of goroutines analyzing events.
	Workers int `json:"workers" yaml:"workers" env:"WORKERS" envDefault:"2"`

	// QueueSize bounds the event queue; events beyond it are dropped.
	QueueSize int `json:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE" envDefault:"1024"`

	// LongSessionAge is the access-token age past which a warning is
	// logged.
	LongSessionAge time.Duration `json:"long_session_age" yaml:"long_session_age" env:"LONG_SESSION_AGE" envDefault:"24h"`

	// ActivityWindow and ActivityThreshold define suspicious activity:
	// more than ActivityThreshold verified requests within the window.
	ActivityWindow    time.Duration `json:"activity_window" yaml:"activity_window" env:"ACTIVITY_WINDOW" envDefault:"5m"`
	ActivityThreshold int           `json:"activity_threshold" yaml:"activity_threshold" env:"ACTIVITY_THRESHOLD" envDefault:"10"`

	// AlertTTL is how long a security alert is kept.
	AlertTTL time.Duration `json:"alert_ttl" yaml:"alert_ttl" env:"ALERT_TTL" envDefault:"24h"`

	// AlertInterval and AlertBurst throttle alert writes per user and
	// alert type.
	AlertInterval time.Duration `json:"alert_interval" yaml:"alert_interval" env:"ALERT_INTERVAL" envDefault:"1m"`
	AlertBurst    int           `json:"alert_burst" yaml:"alert_burst" env:"ALERT_BURST" envDefault:"1"`

	// EventTimeout bounds the cache work done for one event.
	EventTimeout time.Duration `json:"event_timeout" yaml:"event_timeout" env:"EVENT_TIMEOUT" envDefault:"2s"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           2,
		QueueSize:         1024,
		LongSessionAge:    24 * time.Hour,
		ActivityWindow:    5 * time.Minute,
		ActivityThreshold: 10,
		AlertTTL:          24 * time.Hour,
		AlertInterval:     time.Minute,
		AlertBurst:        1,
		EventTimeout:      2 * time.Second,
	}
}

// Validate fills zero values with defaults and rejects negative ones.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize == 0 {
		c.QueueSize = d.QueueSize
	}
	if c.LongSessionAge == 0 {
		c.LongSessionAge = d.LongSessionAge
	}
	if c.ActivityWindow == 0 {
		c.ActivityWindow = d.ActivityWindow
	}
	if c.ActivityThreshold == 0 {
		c.ActivityThreshold = d.ActivityThreshold
	}
	if c.AlertTTL == 0 {
		c.AlertTTL = d.AlertTTL
	}
	if c.AlertInterval == 0 {
		c.AlertInterval = d.AlertInterval
	}
	if c.AlertBurst == 0 {
		c.AlertBurst = d.AlertBurst
	}
	if c.EventTimeout == 0 {
		c.EventTimeout = d.EventTimeout
	}

	switch {
	case c.Workers < 0, c.QueueSize < 0, c.ActivityThreshold < 0, c.AlertBurst < 0:
		return fmt.Errorf("abuse: workers, queue_size, activity_threshold and alert_burst must not be negative")
	case c.LongSessionAge < 0, c.ActivityWindow < 0, c.AlertTTL < 0, c.AlertInterval < 0, c.EventTimeout < 0:
		return fmt.Errorf("abuse: durations must not be negative")
	}
	return nil
}
