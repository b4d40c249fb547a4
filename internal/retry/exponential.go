package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/lightningnetwork/lnd/clock"
)

// ExponentialBackoffStrategy retries recoverable failures, waiting between
// attempts as told by its backoff policy
type ExponentialBackoffStrategy struct {
	maxRetries int
	policy     BackoffPolicy
	clock      clock.Clock
	logger     *slog.Logger
}

// NewExponentialBackoffStrategy creates a new ExponentialBackoffStrategy
func NewExponentialBackoffStrategy(maxRetries int, policy BackoffPolicy, clk clock.Clock,
	logger *slog.Logger) *ExponentialBackoffStrategy {

	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExponentialBackoffStrategy{
		maxRetries: maxRetries,
		policy:     policy,
		clock:      clk,
		logger:     logger,
	}
}

// Execute runs the operation with exponential backoff retry logic
func (s *ExponentialBackoffStrategy) Execute(ctx context.Context, operation Operation) error {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := operation()

		if err == nil {
			if attempt > 0 {
				s.logger.Info("Operation succeeded after retry",
					"attempt", attempt+1,
					"total_attempts", s.maxRetries+1)
			}
			return nil
		}

		lastErr = err

		if !IsRecoverable(err) {
			s.logger.Error("Non-recoverable error, failing immediately",
				"error", err,
				"attempt", attempt+1)
			return err
		}

		if attempt >= s.maxRetries {
			break
		}

		delay := s.policy.WaitTime(attempt + 1)
		s.logger.Warn("Operation failed, retrying with exponential backoff",
			"attempt", attempt+1,
			"max_attempts", s.maxRetries+1,
			"retry_in_seconds", delay.Seconds(),
			"error", err)

		if err := Sleep(ctx, s.clock, delay); err != nil {
			return fmt.Errorf("context cancelled during retry: %w", err)
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

// Name returns the strategy name
func (s *ExponentialBackoffStrategy) Name() string {
	return "ExponentialBackoff"
}

// IsRecoverable determines if an error is a connectivity failure worth
// retrying, possibly against another node
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// Network errors that are typically recoverable
	recoverablePatterns := []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"broken pipe",
		"eof",
		"no such host",
		"connection timed out",
		"dial tcp",
		"too many connections",
	}

	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
