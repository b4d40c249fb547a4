package retry

import (
	"time"
)

// Config holds the retry configuration of one-shot operations such as
// connecting to the database
type Config struct {
	Enabled      bool          // Enable/disable retry mechanism
	MaxRetries   int           // Maximum number of retry attempts
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxRetries:   10,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
	}
}

// BackoffConfig holds the backoff parameters of the RPC client
type BackoffConfig struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig mirrors DefaultBackoff
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MinBackoff: time.Second,
		MaxBackoff: 20 * time.Second,
		Multiplier: 1.6,
		Jitter:     0.2,
	}
}

// Policy builds the backoff policy described by the configuration
func (c BackoffConfig) Policy() (*ExponentialBackoff, error) {
	return NewExponentialBackoff(c.MinBackoff, c.MaxBackoff, c.Multiplier, c.Jitter)
}
