package audit

import (
	"fmt"
	"time"
)

// Config tunes the asynchronous audit log. Zero values are replaced by the
// defaults in Validate.
type Config struct {
	// Enabled turns the audit log on. When false the service runs without
	// a database.
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED"`

	// QueueSize bounds the entries waiting to be written; entries beyond
	// it are dropped and counted.
	QueueSize int `json:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE" envDefault:"1024"`

	// BatchSize is the most entries written in one transaction.
	BatchSize int `json:"batch_size" yaml:"batch_size" env:"BATCH_SIZE" envDefault:"50"`

	// FlushInterval is the longest a partial batch waits.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval" env:"FLUSH_INTERVAL" envDefault:"1s"`

	// WriteTimeout bounds one batch write.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"5s"`
}

// DefaultConfig returns the production defaults with the log disabled.
func DefaultConfig() Config {
	return Config{
		QueueSize:     1024,
		BatchSize:     50,
		FlushInterval: time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// Validate fills zero values with defaults and rejects negative ones.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.QueueSize == 0 {
		c.QueueSize = d.QueueSize
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.QueueSize < 0 || c.BatchSize < 0 {
		return fmt.Errorf("audit: queue_size and batch_size must not be negative")
	}
	if c.FlushInterval < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("audit: durations must not be negative")
	}
	return nil
}
