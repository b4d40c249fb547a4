package monero

import (
	"cmp"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// UnlockKind selects which coordinate of an UnlockTime is authoritative.
type UnlockKind uint8

const (
	// UnlockAtBlock compares by height.
	UnlockAtBlock UnlockKind = iota

	// UnlockAtTimestamp compares by timestamp.
	UnlockAtTimestamp
)

func (k UnlockKind) String() string {
	switch k {
	case UnlockAtBlock:
		return "block"
	case UnlockAtTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("unlock_kind(%d)", uint8(k))
	}
}

// UnlockTime marks when a value becomes spendable.
type UnlockTime struct {
	Kind UnlockKind
	Time BlockchainTime
}

// Compare compares the unlock point against t using the authoritative
// coordinate. It panics if the networks differ.
func (u UnlockTime) Compare(t BlockchainTime) int {
	u.Time.requireSameNetwork(t)
	if u.Kind == UnlockAtTimestamp {
		return u.Time.Timestamp.Compare(t.Timestamp)
	}
	return cmp.Compare(u.Time.Height, t.Height)
}

// After reports whether the unlock point lies strictly after t.
func (u UnlockTime) After(t BlockchainTime) bool {
	return u.Compare(t) > 0
}

func (u UnlockTime) String() string {
	if u.Kind == UnlockAtTimestamp {
		return fmt.Sprintf("unlock at %s", u.Time.Timestamp)
	}
	return fmt.Sprintf("unlock at block %d", u.Time.Height)
}

// TimeLocked wraps a value that may not be spendable before its unlock
// time. A value without an unlock time is always unlocked.
type TimeLocked[T any] struct {
	Value      T
	UnlockTime fn.Option[UnlockTime]
}

// Unlocked wraps a value without any lock.
func Unlocked[T any](value T) TimeLocked[T] {
	return TimeLocked[T]{Value: value, UnlockTime: fn.None[UnlockTime]()}
}

// LockedUntil wraps a value locked until unlock.
func LockedUntil[T any](value T, unlock UnlockTime) TimeLocked[T] {
	return TimeLocked[T]{Value: value, UnlockTime: fn.Some(unlock)}
}

// IsLocked reports whether the value is still locked at now.
func (l TimeLocked[T]) IsLocked(now BlockchainTime) bool {
	return fn.MapOptionZ(l.UnlockTime, func(u UnlockTime) bool {
		return u.After(now)
	})
}

func (l TimeLocked[T]) IsUnlocked(now BlockchainTime) bool {
	return !l.IsLocked(now)
}

// TimeUntilUnlock returns the remaining span, or ZeroSpan when the value is
// already spendable at now.
func (l TimeLocked[T]) TimeUntilUnlock(now BlockchainTime) BlockchainTimeSpan {
	if !l.IsLocked(now) {
		return ZeroSpan
	}
	return l.UnlockTime.UnsafeFromSome().Time.Sub(now)
}

// UnlockAtHeight builds a block-height unlock time with an estimated
// timestamp.
func (n Network) UnlockAtHeight(height int64) UnlockTime {
	return UnlockTime{
		Kind: UnlockAtBlock,
		Time: BlockchainTime{Height: height, Timestamp: n.EstimateTimestamp(height), Network: n},
	}
}
