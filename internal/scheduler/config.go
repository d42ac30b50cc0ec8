package scheduler

import (
	"time"

	"github.com/smallbiznis/rentledger/internal/config"
)

// Config controls the daily run loop.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	RunTimeout  time.Duration
	LockTTL     time.Duration
	LockKey     string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 24 * time.Hour,
		RunTimeout:  15 * time.Minute,
		LockTTL:     30 * time.Minute,
		LockKey:     "rentledger:scheduler:daily_check",
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Scheduler.Enabled,
		RunInterval: cfg.Scheduler.RunInterval,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	return c
}
