package ledger

import (
	"cmp"
	"fmt"

	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// TxOut locates an output by transaction and index.
type TxOut struct {
	TxID  monero.HashDigest
	Index int
}

func (o TxOut) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}

func compareTxOut(a, b TxOut) int {
	if c := cmp.Compare(a.TxID, b.TxID); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}

// Enote is a spendable output owned by the wallet.
type Enote struct {
	Amount   monero.Amount
	Owner    monero.AccountAddress
	Key      fn.Option[monero.PublicKey]
	KeyImage fn.Option[monero.HashDigest]

	// Age is the number of confirmations, 0 while unconfirmed.
	Age    int64
	Origin TxOut

	// Spent is derived when the ledger snapshot is built.
	Spent bool
}

func (e Enote) String() string {
	return fmt.Sprintf("Enote(%s, %s XMR, owner=%d/%d, age=%d, spent=%t)",
		e.Origin, e.Amount.XMR(), e.Owner.AccountIndex, e.Owner.SubAddressIndex, e.Age, e.Spent)
}
