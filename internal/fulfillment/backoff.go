package fulfillment

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig is the single retry schedule shared by the provider attempt
// loop and the inbox drain: capped exponential, base 1s, factor 2, at most
// MaxAttempts tries.
type RetryConfig struct {
	MaxAttempts  int
	BaseInterval time.Duration
	MaxInterval  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseInterval: time.Second,
		MaxInterval:  30 * time.Second,
	}
}

func (c RetryConfig) WithDefaults() RetryConfig {
	defaults := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = defaults.BaseInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = defaults.MaxInterval
	}
	return c
}

// NewSchedule builds the exponential schedule for one attempt sequence.
// Randomization is disabled so the wait sequence stays predictable under
// test; the factor-2 growth already spreads concurrent retries enough.
func (c RetryConfig) NewSchedule() *backoff.ExponentialBackOff {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = c.BaseInterval
	schedule.Multiplier = 2
	schedule.RandomizationFactor = 0
	schedule.MaxInterval = c.MaxInterval
	schedule.Reset()
	return schedule
}
