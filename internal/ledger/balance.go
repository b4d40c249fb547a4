package ledger

import (
	"fmt"

	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Balance splits unspent funds into pending (unconfirmed) and confirmed
// amounts. Confirmed funds keep their unlock time so the unlocked part can
// be computed at any point of the chain.
type Balance struct {
	Pending   monero.Amount
	Confirmed monero.Amount
	Total     monero.Amount

	lockable []monero.TimeLocked[monero.Amount]
}

// unlockKey identifies an unlock time bucket independently of the time
// zone carried by its timestamp.
type unlockKey struct {
	some   bool
	kind   monero.UnlockKind
	height int64
	unix   int64
}

func keyOf(o fn.Option[monero.UnlockTime]) unlockKey {
	return fn.MapOptionZ(o, func(u monero.UnlockTime) unlockKey {
		return unlockKey{
			some:   true,
			kind:   u.Kind,
			height: u.Time.Height,
			unix:   u.Time.Timestamp.Unix(),
		}
	})
}

// CalculateBalance aggregates the unspent enotes accepted by filter. A nil
// filter accepts every enote.
func CalculateBalance(enotes []monero.TimeLocked[Enote], filter func(Enote) bool) (Balance, error) {
	var (
		b       Balance
		buckets = make(map[unlockKey]int)
		err     error
	)

	for _, locked := range enotes {
		enote := locked.Value
		if enote.Spent || (filter != nil && !filter(enote)) {
			continue
		}

		if enote.Age == 0 {
			b.Pending, err = b.Pending.Add(enote.Amount)
			if err != nil {
				return Balance{}, fmt.Errorf("pending balance: %w", err)
			}
			continue
		}

		b.Confirmed, err = b.Confirmed.Add(enote.Amount)
		if err != nil {
			return Balance{}, fmt.Errorf("confirmed balance: %w", err)
		}

		key := keyOf(locked.UnlockTime)
		if idx, ok := buckets[key]; ok {
			// Cannot overflow: bounded by Confirmed.
			b.lockable[idx].Value += enote.Amount
			continue
		}
		buckets[key] = len(b.lockable)
		b.lockable = append(b.lockable, monero.TimeLocked[monero.Amount]{
			Value:      enote.Amount,
			UnlockTime: locked.UnlockTime,
		})
	}

	b.Total, err = b.Confirmed.Add(b.Pending)
	if err != nil {
		return Balance{}, fmt.Errorf("total balance: %w", err)
	}
	return b, nil
}

// UnlockedAmountAt sums the confirmed funds spendable at now.
func (b Balance) UnlockedAmountAt(now monero.BlockchainTime) monero.Amount {
	var total monero.Amount
	for _, bucket := range b.lockable {
		if bucket.IsUnlocked(now) {
			total += bucket.Value
		}
	}
	return total
}

// LockedAmountsAt returns the confirmed funds still locked at now, keyed by
// the span until they unlock.
func (b Balance) LockedAmountsAt(now monero.BlockchainTime) map[monero.BlockchainTimeSpan]monero.Amount {
	locked := make(map[monero.BlockchainTimeSpan]monero.Amount)
	for _, bucket := range b.lockable {
		if bucket.IsLocked(now) {
			locked[bucket.TimeUntilUnlock(now)] += bucket.Value
		}
	}
	return locked
}
