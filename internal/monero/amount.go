package monero

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// AtomicUnitScale is the number of decimal places between one XMR and one
// atomic unit (piconero).
const AtomicUnitScale = 12

const atomicUnitsPerXMR uint64 = 1_000_000_000_000

var (
	ErrAmountOverflow  = errors.New("amount overflow")
	ErrAmountUnderflow = errors.New("amount underflow")
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// Amount is a non-negative quantity of XMR expressed in atomic units.
// Arithmetic never wraps: Add, Sub and Sum report overflow as an error.
type Amount uint64

// FromAtomic converts a signed atomic unit count, as reported by the sync
// engine, into an Amount.
func FromAtomic(units int64) (Amount, error) {
	if units < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeAmount, units)
	}
	return Amount(units), nil
}

// AtomicUnits returns the raw atomic unit count.
func (a Amount) AtomicUnits() uint64 {
	return uint64(a)
}

func (a Amount) IsZero() bool {
	return a == 0
}

// Add returns a+b or ErrAmountOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, a, b)
	}
	return Amount(sum), nil
}

// Sub returns a-b or ErrAmountUnderflow when b is larger than a.
func (a Amount) Sub(b Amount) (Amount, error) {
	diff, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%w: %d - %d", ErrAmountUnderflow, a, b)
	}
	return Amount(diff), nil
}

// Sum adds all amounts, failing on the first overflow.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, amount := range amounts {
		var err error
		if total, err = total.Add(amount); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// XMR formats the amount as a decimal XMR string without trailing zeros,
// e.g. "1.5" or "10".
func (a Amount) XMR() string {
	whole := uint64(a) / atomicUnitsPerXMR
	frac := uint64(a) % atomicUnitsPerXMR
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%012d", frac), "0")
	return strconv.FormatUint(whole, 10) + "." + fracStr
}

func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// ParseXMR parses a decimal XMR string. Values with more than
// AtomicUnitScale decimals are rejected rather than rounded.
func ParseXMR(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	wholeStr, fracStr, hasDot := strings.Cut(s, ".")
	if wholeStr == "" && (!hasDot || fracStr == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(fracStr) > AtomicUnitScale {
		return 0, fmt.Errorf("%w: more than %d decimals in %q", ErrInvalidAmount, AtomicUnitScale, s)
	}

	var whole uint64
	if wholeStr != "" {
		var err error
		whole, err = strconv.ParseUint(wholeStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}

	var frac uint64
	if fracStr != "" {
		padded := fracStr + strings.Repeat("0", AtomicUnitScale-len(fracStr))
		var err error
		frac, err = strconv.ParseUint(padded, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}

	hi, lo := bits.Mul64(whole, atomicUnitsPerXMR)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %q", ErrAmountOverflow, s)
	}
	return Amount(lo).Add(Amount(frac))
}
