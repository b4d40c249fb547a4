package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// BackoffPolicy returns how long to wait before retry number retryCount.
// The first attempt (retryCount 0) never waits.
type BackoffPolicy interface {
	WaitTime(retryCount int) time.Duration
}

var ErrInvalidBackoff = errors.New("invalid backoff parameters")

// ExponentialBackoff grows the wait time geometrically from MinBackoff up
// to MaxBackoff and spreads it by +/- Jitter.
type ExponentialBackoff struct {
	minBackoff time.Duration
	maxBackoff time.Duration
	multiplier float64
	jitter     float64

	// randFloat returns a value in [0, 1).
	randFloat func() float64
}

// NewExponentialBackoff validates the parameters: both bounds positive,
// multiplier above 1 and jitter in [0, 1).
func NewExponentialBackoff(minBackoff, maxBackoff time.Duration, multiplier, jitter float64) (*ExponentialBackoff, error) {
	if minBackoff <= 0 || maxBackoff <= 0 {
		return nil, fmt.Errorf("%w: backoff bounds must be positive", ErrInvalidBackoff)
	}
	if multiplier <= 1 {
		return nil, fmt.Errorf("%w: multiplier %v must be greater than 1", ErrInvalidBackoff, multiplier)
	}
	if jitter < 0 || jitter >= 1 {
		return nil, fmt.Errorf("%w: jitter %v must be in [0, 1)", ErrInvalidBackoff, jitter)
	}

	return &ExponentialBackoff{
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		multiplier: multiplier,
		jitter:     jitter,
		randFloat:  rand.Float64,
	}, nil
}

// DefaultBackoff waits 1s, 1.6s, 2.56s, ... up to 20s with 20% jitter.
func DefaultBackoff() *ExponentialBackoff {
	b, _ := NewExponentialBackoff(time.Second, 20*time.Second, 1.6, 0.2)
	return b
}

func (b *ExponentialBackoff) WaitTime(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}

	wait := float64(b.minBackoff) * math.Pow(b.multiplier, float64(retryCount))
	wait = min(wait, float64(b.maxBackoff))

	if b.jitter > 0 {
		spread := wait * b.jitter
		wait += spread * (2*b.randFloat() - 1)
	}

	return time.Duration(wait)
}

// Sleep waits for d on clk, returning early with the context error when
// ctx is done first.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.TickAfter(d):
		return nil
	}
}
