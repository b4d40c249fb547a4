package retry

import (
	"context"
	"log/slog"

	"github.com/lightningnetwork/lnd/clock"
)

// Strategy defines the interface for retry strategies
type Strategy interface {
	// Execute runs the operation with the configured retry logic
	Execute(ctx context.Context, operation Operation) error

	// Name returns the name of the strategy for logging
	Name() string
}

// Operation is a function that can be retried
type Operation func() error

// NewStrategy creates a retry strategy based on configuration
func NewStrategy(config Config, clk clock.Clock, logger *slog.Logger) (Strategy, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !config.Enabled {
		logger.Info("Retry disabled, using NoRetryStrategy")
		return NewNoRetryStrategy(), nil
	}

	policy, err := NewExponentialBackoff(config.InitialDelay, config.MaxDelay, 2, 0)
	if err != nil {
		return nil, err
	}

	logger.Info("Retry enabled, using ExponentialBackoffStrategy",
		"max_retries", config.MaxRetries,
		"initial_delay_sec", config.InitialDelay.Seconds(),
		"max_delay_sec", config.MaxDelay.Seconds(),
	)

	return NewExponentialBackoffStrategy(config.MaxRetries, policy, clk, logger), nil
}
