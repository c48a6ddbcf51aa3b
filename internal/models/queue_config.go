package models

import (
	"fmt"
	"time"
)

// BackoffType selects the delay formula applied between retry attempts.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// BackoffConfig describes the retry delay policy for a queue.
// Fixed: every retry waits Delay. Exponential: attempt n waits
// Delay * 2^(n-1), capped at MaxDelay.
type BackoffConfig struct {
	Type     BackoffType   `toml:"type" json:"type"`
	Delay    time.Duration `toml:"delay" json:"delay"`
	MaxDelay time.Duration `toml:"max_delay" json:"max_delay"`
}

// RetryPolicy is the default retry behavior for jobs on a queue. Individual
// jobs may override Attempts at enqueue time.
type RetryPolicy struct {
	Attempts int           `toml:"attempts" json:"attempts"`
	Backoff  BackoffConfig `toml:"backoff" json:"backoff"`
}

// RateLimitConfig caps completions admitted per rolling window.
// Zero Max disables rate limiting for the queue.
type RateLimitConfig struct {
	Max      int           `toml:"max" json:"max"`
	Duration time.Duration `toml:"duration" json:"duration"`
}

// QueueConfig is the static per-queue configuration, fixed at queue creation.
// Concurrency 1 serializes all jobs on the queue; the scraping queues use this
// to stay polite to remote sites.
type QueueConfig struct {
	Name               string          `toml:"name" json:"name"`
	Concurrency        int             `toml:"concurrency" json:"concurrency"`
	RateLimit          RateLimitConfig `toml:"rate_limit" json:"rate_limit"`
	Retry              RetryPolicy     `toml:"retry" json:"retry"`
	PollInterval       time.Duration   `toml:"poll_interval" json:"poll_interval"`
	VisibilityTimeout  time.Duration   `toml:"visibility_timeout" json:"visibility_timeout"`
	CompletedRetention int             `toml:"completed_retention" json:"completed_retention"`
}

// DefaultQueueConfig returns a queue configuration with sane defaults applied.
func DefaultQueueConfig(name string) QueueConfig {
	return QueueConfig{
		Name:        name,
		Concurrency: 2,
		Retry: RetryPolicy{
			Attempts: 3,
			Backoff: BackoffConfig{
				Type:     BackoffExponential,
				Delay:    2 * time.Second,
				MaxDelay: 5 * time.Minute,
			},
		},
		PollInterval:       250 * time.Millisecond,
		VisibilityTimeout:  5 * time.Minute,
		CompletedRetention: 100,
	}
}

// Validate checks the invariants that must hold at queue creation time.
func (c *QueueConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("queue name is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("queue %s: concurrency must be at least 1", c.Name)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("queue %s: retry attempts must be at least 1", c.Name)
	}
	switch c.Retry.Backoff.Type {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("queue %s: unknown backoff type %q", c.Name, c.Retry.Backoff.Type)
	}
	if c.Retry.Backoff.Delay <= 0 {
		return fmt.Errorf("queue %s: backoff delay must be positive", c.Name)
	}
	if c.RateLimit.Max > 0 && c.RateLimit.Duration <= 0 {
		return fmt.Errorf("queue %s: rate limit duration must be positive when max is set", c.Name)
	}
	return nil
}
