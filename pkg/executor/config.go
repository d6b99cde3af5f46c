package executor

import (
	"time"

	"github.com/pkg/errors"
)

// Config sizes a Pool.
type Config struct {
	// NamePrefix is prepended to the worker number to name each worker's
	// storage, e.g. "tool-exec-3".
	NamePrefix string `json:"name_prefix" yaml:"name_prefix" mapstructure:"name_prefix"`
	// CoreSize workers are started with the pool and live until shutdown.
	CoreSize int `json:"core_size" yaml:"core_size" mapstructure:"core_size"`
	// MaxSize bounds core plus burst workers. Burst workers are started only
	// when the queue is full and exit after KeepAlive without work.
	MaxSize       int           `json:"max_size" yaml:"max_size" mapstructure:"max_size"`
	QueueCapacity int           `json:"queue_capacity" yaml:"queue_capacity" mapstructure:"queue_capacity"`
	KeepAlive     time.Duration `json:"keep_alive" yaml:"keep_alive" mapstructure:"keep_alive"`
}

func DefaultConfig() Config {
	return Config{
		NamePrefix:    "tool-exec-",
		CoreSize:      5,
		MaxSize:       10,
		QueueCapacity: 100,
		KeepAlive:     60 * time.Second,
	}
}

func (c Config) WithNamePrefix(prefix string) Config {
	c.NamePrefix = prefix
	return c
}

func (c Config) WithCoreSize(n int) Config {
	c.CoreSize = n
	return c
}

func (c Config) WithMaxSize(n int) Config {
	c.MaxSize = n
	return c
}

func (c Config) WithQueueCapacity(n int) Config {
	c.QueueCapacity = n
	return c
}

func (c Config) WithKeepAlive(d time.Duration) Config {
	c.KeepAlive = d
	return c
}

// Validate checks that the sizes are consistent.
func (c Config) Validate() error {
	if c.CoreSize < 1 {
		return errors.Errorf("core size must be at least 1, got %d", c.CoreSize)
	}
	if c.MaxSize < c.CoreSize {
		return errors.Errorf("max size %d is smaller than core size %d", c.MaxSize, c.CoreSize)
	}
	if c.QueueCapacity < 0 {
		return errors.Errorf("queue capacity must not be negative, got %d", c.QueueCapacity)
	}
	if c.KeepAlive <= 0 {
		return errors.Errorf("keep alive must be positive, got %s", c.KeepAlive)
	}
	return nil
}
