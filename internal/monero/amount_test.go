package monero

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseXMRRoundTrip(t *testing.T) {
	tests := []struct {
		input  string
		atomic uint64
		xmr    string
	}{
		{"0", 0, "0"},
		{"1", 1_000_000_000_000, "1"},
		{"10", 10_000_000_000_000, "10"},
		{"1.5", 1_500_000_000_000, "1.5"},
		{"0.000000000001", 1, "0.000000000001"},
		{".25", 250_000_000_000, "0.25"},
		{"1.", 1_000_000_000_000, "1"},
		{"18446744.073709551615", math.MaxUint64, "18446744.073709551615"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			amount, err := ParseXMR(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.atomic, amount.AtomicUnits())
			require.Equal(t, tt.xmr, amount.XMR())

			again, err := ParseXMR(amount.XMR())
			require.NoError(t, err)
			require.Equal(t, amount, again)
		})
	}
}

func TestParseXMRRejectsInvalid(t *testing.T) {
	for _, input := range []string{"", ".", "-1", "+1", "abc", "1.2.3", "1.0000000000001", "1.-5"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseXMR(input)
			require.ErrorIs(t, err, ErrInvalidAmount)
		})
	}

	_, err := ParseXMR("18446744.073709551616")
	require.ErrorIs(t, err, ErrAmountOverflow)

	_, err = ParseXMR("18446745")
	require.ErrorIs(t, err, ErrAmountOverflow)
}

func TestAmountArithmetic(t *testing.T) {
	a := Amount(7)
	b := Amount(35)
	c := Amount(1_000)

	ab, err := a.Add(b)
	require.NoError(t, err)
	ba, err := b.Add(a)
	require.NoError(t, err)
	require.Equal(t, ab, ba)

	left, err := ab.Add(c)
	require.NoError(t, err)
	bc, err := b.Add(c)
	require.NoError(t, err)
	right, err := a.Add(bc)
	require.NoError(t, err)
	require.Equal(t, left, right)

	diff, err := c.Sub(b)
	require.NoError(t, err)
	require.Equal(t, Amount(965), diff)
}

func TestAmountOverflowIsAnError(t *testing.T) {
	_, err := Amount(math.MaxUint64).Add(1)
	require.ErrorIs(t, err, ErrAmountOverflow)

	_, err = Amount(1).Sub(2)
	require.ErrorIs(t, err, ErrAmountUnderflow)

	_, err = Sum(Amount(math.MaxUint64-1), 1, 1)
	require.ErrorIs(t, err, ErrAmountOverflow)

	total, err := Sum(1, 2, 3)
	require.NoError(t, err)
	require.Equal(t, Amount(6), total)
}

func TestFromAtomic(t *testing.T) {
	amount, err := FromAtomic(42)
	require.NoError(t, err)
	require.Equal(t, Amount(42), amount)

	_, err = FromAtomic(-1)
	require.ErrorIs(t, err, ErrNegativeAmount)
}
