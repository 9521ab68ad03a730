// Package config loads tunables from RINGCHAN_* environment variables.
package config

import (
	"fmt"
	"sync"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. RINGCHAN_SEGMENT_SIZE.
const Prefix = "ringchan"

// Config holds the process-wide defaults used by queues, the epoch collector
// and the blocking primitive.
type Config struct {
	// SegmentSize is the number of slots per queue segment. Power of two.
	SegmentSize uint64 `envconfig:"SEGMENT_SIZE" default:"64"`

	// EpochSlots is the number of participant records in the default epoch
	// collector, i.e. how many guards may be pinned at once.
	EpochSlots int `envconfig:"EPOCH_SLOTS" default:"128"`

	// CollectEvery triggers a collection attempt every N unpins.
	CollectEvery uint64 `envconfig:"EPOCH_COLLECT_EVERY" default:"64"`

	// WaitBackend selects the blocking primitive: "futex" or "cond".
	WaitBackend string `envconfig:"WAIT_BACKEND" default:"futex"`

	// LogLevel is used by binaries that build their own logger.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Default returns the built-in defaults without reading the environment.
func Default() Config {
	return Config{
		SegmentSize:  64,
		EpochSlots:   128,
		CollectEvery: 64,
		WaitBackend:  "futex",
		LogLevel:     "info",
	}
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.SegmentSize == 0 || c.SegmentSize&(c.SegmentSize-1) != 0 {
		return fmt.Errorf("segment size must be power of 2 and > 0, got %d", c.SegmentSize)
	}
	if c.EpochSlots <= 0 {
		return fmt.Errorf("epoch slots must be > 0, got %d", c.EpochSlots)
	}
	if c.CollectEvery == 0 {
		return fmt.Errorf("epoch collect interval must be > 0")
	}
	switch c.WaitBackend {
	case "futex", "cond":
	default:
		return fmt.Errorf("unknown wait backend %q", c.WaitBackend)
	}
	return nil
}

var (
	loadOnce sync.Once
	loaded   Config
	loadErr  error
)

// Get returns the environment configuration, loaded once per process.
// When the environment is invalid the defaults are returned together with
// the load error so callers can report it.
func Get() (Config, error) {
	loadOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			loaded, loadErr = Default(), err
			return
		}
		loaded = *cfg
	})
	return loaded, loadErr
}
