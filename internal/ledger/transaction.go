package ledger

import (
	"fmt"
	"math"
	"time"

	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// TxStateKind is the lifecycle stage of a transaction.
type TxStateKind uint8

const (
	OffChain TxStateKind = iota
	InMemoryPool
	Failed
	OnChain
)

func (k TxStateKind) String() string {
	switch k {
	case OffChain:
		return "off_chain"
	case InMemoryPool:
		return "in_pool"
	case Failed:
		return "failed"
	case OnChain:
		return "on_chain"
	default:
		return fmt.Sprintf("tx_state(%d)", uint8(k))
	}
}

// BlockHeader identifies the block a transaction was mined in.
type BlockHeader struct {
	Height    int64
	Timestamp time.Time
}

// TxState carries the block header for on-chain transactions only.
type TxState struct {
	Kind  TxStateKind
	Block BlockHeader
}

func (s TxState) String() string {
	if s.Kind == OnChain {
		return fmt.Sprintf("on_chain(%d)", s.Block.Height)
	}
	return s.Kind.String()
}

// PaymentDetail is one outgoing payment.
type PaymentDetail struct {
	Amount    monero.Amount
	Recipient monero.PublicAddress
}

// Transaction is the consolidated view of every record sharing a tx hash.
type Transaction struct {
	Hash     monero.HashDigest
	State    TxState
	Network  monero.Network
	TimeLock fn.Option[monero.UnlockTime]

	Sent     []Enote
	Received []Enote
	Payments []PaymentDetail

	Fee    monero.Amount
	Change monero.Amount
}

// BlockHeight returns the mined height, or none when not on chain.
func (t Transaction) BlockHeight() fn.Option[int64] {
	if t.State.Kind != OnChain {
		return fn.None[int64]()
	}
	return fn.Some(t.State.Block.Height)
}

// AmountReceived sums the received enotes.
func (t Transaction) AmountReceived() (monero.Amount, error) {
	return sumEnotes(t.Received)
}

// AmountSent sums the enotes spent by this transaction.
func (t Transaction) AmountSent() (monero.Amount, error) {
	return sumEnotes(t.Sent)
}

// NetAmount returns received minus sent in atomic units.
func (t Transaction) NetAmount() (int64, error) {
	received, err := t.AmountReceived()
	if err != nil {
		return 0, err
	}
	sent, err := t.AmountSent()
	if err != nil {
		return 0, err
	}
	if received > math.MaxInt64 || sent > math.MaxInt64 {
		return 0, fmt.Errorf("net amount of %s: %w", t.Hash, monero.ErrAmountOverflow)
	}
	return int64(received) - int64(sent), nil
}

func sumEnotes(enotes []Enote) (monero.Amount, error) {
	var total monero.Amount
	for _, e := range enotes {
		var err error
		total, err = total.Add(e.Amount)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
