package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the maintenance janitor.
type Config struct {
	// Interval is how often the janitor wakes up to run its tasks.
	// Default: 1 hour
	Interval time.Duration

	// TaskTimeout is the maximum time one maintenance task may run.
	// Default: 5 minutes
	TaskTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for a running sweep to finish.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// SweepBatchSize caps how many expired analyses one sweep removes.
	// Remaining rows are picked up on the next tick.
	// Default: 500
	SweepBatchSize int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Interval:        time.Hour,
		TaskTimeout:     5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		SweepBatchSize:  500,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Interval < time.Minute {
		return fmt.Errorf("interval must be at least 1 minute, got %v", c.Interval)
	}
	if c.TaskTimeout < time.Second {
		return fmt.Errorf("task timeout must be at least 1 second, got %v", c.TaskTimeout)
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	if c.SweepBatchSize < 1 {
		return fmt.Errorf("sweep batch size must be at least 1, got %d", c.SweepBatchSize)
	}
	return nil
}
