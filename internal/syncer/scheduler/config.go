package scheduler

import "time"

// Config controls the periodic sync loop.
type Config struct {
	PollInterval time.Duration
	RunTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Minute,
		RunTimeout:   60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}

	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	return c
}
