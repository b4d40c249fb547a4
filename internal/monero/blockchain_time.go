package monero

import (
	"cmp"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// MaxBlockNumber is CRYPTONOTE_MAX_BLOCK_NUMBER: raw unlock_time values
	// below it are heights, values at or above it are timestamps.
	MaxBlockNumber = 500_000_000

	MaxHeight = MaxBlockNumber - 1

	// DefaultTxSpendableAge is the number of confirmations after which a
	// received output becomes spendable.
	DefaultTxSpendableAge = 10

	// maxEpochSecond caps timestamp unlock times far in the future.
	maxEpochSecond = 1 << 40
)

var ErrTimeOutOfRange = errors.New("blockchain time out of range")

// IsBlockHeightInRange reports whether h is a valid block height.
func IsBlockHeightInRange(h int64) bool {
	return h >= 0 && h <= MaxHeight
}

// IsBlockEpochInRange reports whether epochSecond cannot be mistaken for a
// block height.
func IsBlockEpochInRange(epochSecond int64) bool {
	return epochSecond > MaxHeight
}

// BlockchainTime is a point on the chain timeline of one network, carrying
// both a height and a timestamp.
type BlockchainTime struct {
	Height    int64
	Timestamp time.Time
	Network   Network
}

// NewBlockchainTime validates the height and timestamp ranges.
func NewBlockchainTime(height int64, ts time.Time, network Network) (BlockchainTime, error) {
	if !IsBlockHeightInRange(height) {
		return BlockchainTime{}, fmt.Errorf("%w: block height %d", ErrTimeOutOfRange, height)
	}
	if !IsBlockEpochInRange(ts.Unix()) {
		return BlockchainTime{}, fmt.Errorf("%w: block timestamp %s", ErrTimeOutOfRange, ts)
	}
	return BlockchainTime{Height: height, Timestamp: ts.UTC(), Network: network}, nil
}

func (t BlockchainTime) IsZero() bool {
	return t.Height == 0 && t.Timestamp.IsZero()
}

// requireSameNetwork panics: comparing times across networks is a bug in
// the caller, not a runtime condition.
func (t BlockchainTime) requireSameNetwork(other BlockchainTime) {
	if t.Network != other.Network {
		panic(fmt.Sprintf("monero: BlockchainTime network mismatch: expected %v, got %v",
			t.Network, other.Network))
	}
}

// Compare orders by height, then timestamp. It panics if the networks
// differ.
func (t BlockchainTime) Compare(other BlockchainTime) int {
	t.requireSameNetwork(other)
	if c := cmp.Compare(t.Height, other.Height); c != 0 {
		return c
	}
	return t.Timestamp.Compare(other.Timestamp)
}

// EstimateHeight extrapolates the height at target from this anchor.
func (t BlockchainTime) EstimateHeight(target time.Time) int64 {
	diff := target.Unix() - t.Timestamp.Unix()
	avg := int64(t.Network.AvgBlockTime(t.Height) / time.Second)
	return min(max(diff/avg+t.Height, 0), MaxHeight)
}

// EstimateTimestamp extrapolates the timestamp of height from this anchor.
// height must not be negative.
func (t BlockchainTime) EstimateTimestamp(height int64) time.Time {
	if height < 0 {
		panic(fmt.Sprintf("monero: block height %d must not be negative", height))
	}
	avg := int64(t.Network.AvgBlockTime(t.Height) / time.Second)
	return time.Unix(t.Timestamp.Unix()+avg*(height-t.Height), 0).UTC()
}

// EffectiveUnlockTime returns when an output mined at txHeight becomes
// spendable: the later of the default spendable age and the declared
// transaction lock.
func (t BlockchainTime) EffectiveUnlockTime(txHeight int64, txTimeLock fn.Option[UnlockTime]) UnlockTime {
	spendableHeight := min(txHeight+DefaultTxSpendableAge-1, MaxHeight)
	spendable := BlockchainTime{
		Height:    spendableHeight,
		Timestamp: t.EstimateTimestamp(spendableHeight),
		Network:   t.Network,
	}

	if txTimeLock.IsSome() {
		lock := txTimeLock.UnsafeFromSome()
		if lock.After(spendable) {
			return lock
		}
	}
	return UnlockTime{Kind: UnlockAtBlock, Time: spendable}
}

// ResolveUnlockTime interprets a raw unlock_time field. Zero means the
// transaction carries no lock.
func (t BlockchainTime) ResolveUnlockTime(raw uint64) fn.Option[UnlockTime] {
	if raw == 0 {
		return fn.None[UnlockTime]()
	}

	if raw < MaxBlockNumber {
		height := int64(raw)
		return fn.Some(UnlockTime{
			Kind: UnlockAtBlock,
			Time: BlockchainTime{
				Height:    height,
				Timestamp: t.EstimateTimestamp(height),
				Network:   t.Network,
			},
		})
	}

	epoch := t.Network.params().epoch
	sec := int64(min(raw, maxEpochSecond))
	sec = max(sec, epoch)
	ts := time.Unix(sec, 0).UTC()

	return fn.Some(UnlockTime{
		Kind: UnlockAtTimestamp,
		Time: BlockchainTime{
			Height:    t.EstimateHeight(ts),
			Timestamp: ts,
			Network:   t.Network,
		},
	})
}

// Until returns the span from t to end.
func (t BlockchainTime) Until(end BlockchainTime) BlockchainTimeSpan {
	return BlockchainTimeSpan{
		Duration: end.Timestamp.Sub(t.Timestamp),
		Blocks:   end.Height - t.Height,
	}
}

// Sub returns the span from other to t.
func (t BlockchainTime) Sub(other BlockchainTime) BlockchainTimeSpan {
	return other.Until(t)
}

func (t BlockchainTime) String() string {
	return fmt.Sprintf("Block %d | Time %s", t.Height, t.Timestamp.Format(time.RFC3339))
}

// BlockchainTimeSpan is a distance on the chain timeline. It is comparable
// and can be used as a map key.
type BlockchainTimeSpan struct {
	Duration time.Duration
	Blocks   int64
}

var ZeroSpan = BlockchainTimeSpan{}

// TimeRemaining clamps negative durations to zero.
func (s BlockchainTimeSpan) TimeRemaining() time.Duration {
	return max(s.Duration, 0)
}
