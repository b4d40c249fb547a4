package retry

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffFirstAttemptIsImmediate(t *testing.T) {
	require.Zero(t, DefaultBackoff().WaitTime(0))
	require.Zero(t, DefaultBackoff().WaitTime(-3))
}

func TestExponentialBackoffIsMonotonicWithoutJitter(t *testing.T) {
	b, err := NewExponentialBackoff(time.Second, 20*time.Second, 1.6, 0)
	require.NoError(t, err)

	require.Equal(t, 1600*time.Millisecond, b.WaitTime(1))

	prev := b.WaitTime(0)
	for n := 1; n < 50; n++ {
		wait := b.WaitTime(n)
		require.GreaterOrEqual(t, wait, prev, "retry %d", n)
		require.LessOrEqual(t, wait, 20*time.Second, "retry %d", n)
		prev = wait
	}
	require.Equal(t, 20*time.Second, b.WaitTime(50))
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	const jitter = 0.2

	plain, err := NewExponentialBackoff(time.Second, 20*time.Second, 1.6, 0)
	require.NoError(t, err)
	jittered, err := NewExponentialBackoff(time.Second, 20*time.Second, 1.6, jitter)
	require.NoError(t, err)

	for n := 1; n < 12; n++ {
		base := float64(plain.WaitTime(n))
		for i := 0; i < 100; i++ {
			wait := float64(jittered.WaitTime(n))
			require.GreaterOrEqual(t, wait, (1-jitter)*base-1)
			require.LessOrEqual(t, wait, (1+jitter)*base+1)
		}
	}

	// A fixed random source makes the spread exact.
	jittered.randFloat = func() float64 { return 0 }
	require.Equal(t, 1280*time.Millisecond, jittered.WaitTime(1))
	jittered.randFloat = func() float64 { return 0.5 }
	require.Equal(t, 1600*time.Millisecond, jittered.WaitTime(1))
}

func TestNewExponentialBackoffValidation(t *testing.T) {
	tests := []struct {
		name       string
		min, max   time.Duration
		multiplier float64
		jitter     float64
	}{
		{"zero min", 0, time.Second, 2, 0},
		{"negative max", time.Second, -time.Second, 2, 0},
		{"multiplier one", time.Second, time.Second, 1, 0},
		{"jitter one", time.Second, time.Second, 2, 1},
		{"negative jitter", time.Second, time.Second, 2, -0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExponentialBackoff(tt.min, tt.max, tt.multiplier, tt.jitter)
			require.ErrorIs(t, err, ErrInvalidBackoff)
		})
	}

	b, err := DefaultBackoffConfig().Policy()
	require.NoError(t, err)
	require.Equal(t, DefaultBackoff().maxBackoff, b.maxBackoff)
}

func TestSleep(t *testing.T) {
	clk := clock.NewTestClock(testTime)

	require.NoError(t, Sleep(context.Background(), clk, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, clk, time.Hour), context.Canceled)
	require.ErrorIs(t, Sleep(ctx, clk, 0), context.Canceled)
}
