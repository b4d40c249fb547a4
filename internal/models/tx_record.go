package models

import (
	"errors"
	"fmt"
)

// TxRecordState is the lifecycle tag the sync engine attaches to a record
type TxRecordState uint8

const (
	StateOffChain TxRecordState = 1
	StatePending  TxRecordState = 2
	StateFailed   TxRecordState = 3
	StateOnChain  TxRecordState = 4
)

// MaxRecordSize is the upper bound of one serialized TxRecord, used to size
// listener batches
const MaxRecordSize = 224

var ErrInvalidRecord = errors.New("invalid tx record")

func (s TxRecordState) String() string {
	switch s {
	case StateOffChain:
		return "off_chain"
	case StatePending:
		return "pending"
	case StateFailed:
		return "failed"
	case StateOnChain:
		return "on_chain"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// TxRecord is one side of one transaction's effect on one output, as
// reported by the sync engine. Incoming records describe an owned output,
// outgoing records reference the key image being spent.
type TxRecord struct {
	TxHash    string `json:"tx_hash"`
	PublicKey string `json:"public_key,omitempty"` // Empty when unknown
	KeyImage  string `json:"key_image,omitempty"`  // Empty when unknown

	// Destination sub-address indices (incoming only)
	SubAddressMajor int `json:"sub_address_major"`
	SubAddressMinor int `json:"sub_address_minor"`

	// Payment destination (outgoing only)
	Recipient string `json:"recipient,omitempty"`

	// Amounts in atomic units
	Amount int64 `json:"amount"`
	Fee    int64 `json:"fee"`
	Change int64 `json:"change"`

	Height     int64         `json:"height"`
	UnlockTime uint64        `json:"unlock_time"` // Raw unlock_time field, 0 means none
	Timestamp  int64         `json:"timestamp"`   // Block epoch seconds, 0 when not known
	State      TxRecordState `json:"state"`
	Coinbase   bool          `json:"coinbase"`
	Incoming   bool          `json:"incoming"`
}

// Validate checks the invariants every record must satisfy before it is
// consolidated
func (r TxRecord) Validate() error {
	if r.TxHash == "" {
		return fmt.Errorf("%w: missing tx hash", ErrInvalidRecord)
	}
	if r.State < StateOffChain || r.State > StateOnChain {
		return fmt.Errorf("%w: tx %s has invalid state %d", ErrInvalidRecord, r.TxHash, r.State)
	}
	if r.Amount < 0 || r.Fee < 0 || r.Change < 0 {
		return fmt.Errorf("%w: tx %s amounts cannot be negative", ErrInvalidRecord, r.TxHash)
	}
	if r.Incoming && r.Amount == 0 {
		return fmt.Errorf("%w: tx %s receives a zero amount", ErrInvalidRecord, r.TxHash)
	}
	if r.Height < 0 {
		return fmt.Errorf("%w: tx %s has negative height", ErrInvalidRecord, r.TxHash)
	}
	return nil
}
