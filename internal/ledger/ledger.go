package ledger

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"monerosync/internal/models"
	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var ErrMissingPrimaryAddress = errors.New("account list has no primary address")

// Ledger is an immutable snapshot of a wallet's transactions and enotes
// at CheckedAt.
type Ledger struct {
	PublicAddress   monero.PublicAddress
	Accounts        []monero.WalletAccount
	TransactionByID map[monero.HashDigest]Transaction
	Enotes          []monero.TimeLocked[Enote]
	CheckedAt       monero.BlockchainTime
}

// NewLedger assembles a snapshot. The primary address is account 0,
// subaddress 0.
func NewLedger(
	accounts []monero.WalletAccount,
	txByID map[monero.HashDigest]Transaction,
	enotes []monero.TimeLocked[Enote],
	checkedAt monero.BlockchainTime,
) (*Ledger, error) {
	primary, err := monero.FindAddressByIndex(accounts, 0, 0).
		UnwrapOrErr(ErrMissingPrimaryAddress)
	if err != nil {
		return nil, err
	}

	return &Ledger{
		PublicAddress:   primary.PublicAddress,
		Accounts:        slices.Clone(accounts),
		TransactionByID: maps.Clone(txByID),
		Enotes:          slices.Clone(enotes),
		CheckedAt:       checkedAt,
	}, nil
}

// BuildLedger consolidates records and assembles the resulting snapshot.
func BuildLedger(
	records []models.TxRecord,
	accounts []monero.WalletAccount,
	now monero.BlockchainTime,
	logger *slog.Logger,
) (*Ledger, error) {
	txByID, enotes, err := Consolidate(records, accounts, now, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to consolidate transactions: %w", err)
	}
	return NewLedger(accounts, txByID, enotes, now)
}

// WithCheckedAt returns a copy of the ledger stamped with a new time.
func (l *Ledger) WithCheckedAt(checkedAt monero.BlockchainTime) *Ledger {
	next := *l
	next.CheckedAt = checkedAt
	return &next
}

// Balance computes the balance of every account.
func (l *Ledger) Balance() (Balance, error) {
	return CalculateBalance(l.Enotes, nil)
}

// AccountBalance computes the balance of one account.
func (l *Ledger) AccountBalance(accountIndex int) (Balance, error) {
	return CalculateBalance(l.Enotes, func(e Enote) bool {
		return e.Owner.AccountIndex == accountIndex
	})
}

// Transactions returns the transactions newest first. Transactions not yet
// on chain sort before mined ones.
func (l *Ledger) Transactions() []Transaction {
	txs := make([]Transaction, 0, len(l.TransactionByID))
	for _, tx := range l.TransactionByID {
		txs = append(txs, tx)
	}
	slices.SortFunc(txs, func(a, b Transaction) int {
		ha := a.BlockHeight().UnwrapOr(monero.MaxHeight + 1)
		hb := b.BlockHeight().UnwrapOr(monero.MaxHeight + 1)
		if c := cmp.Compare(hb, ha); c != 0 {
			return c
		}
		return cmp.Compare(a.Hash, b.Hash)
	})
	return txs
}

// TransactionIDs returns the set of transaction hashes.
func (l *Ledger) TransactionIDs() fn.Set[monero.HashDigest] {
	ids := fn.NewSet[monero.HashDigest]()
	for id := range l.TransactionByID {
		ids.Add(id)
	}
	return ids
}

// KeyImages returns the key images of every known enote.
func (l *Ledger) KeyImages() fn.Set[monero.HashDigest] {
	images := fn.NewSet[monero.HashDigest]()
	for _, locked := range l.Enotes {
		locked.Value.KeyImage.WhenSome(func(ki monero.HashDigest) {
			images.Add(ki)
		})
	}
	return images
}

// Addresses returns every account address in string form.
func (l *Ledger) Addresses() fn.Set[string] {
	addrs := fn.NewSet[string]()
	for _, account := range l.Accounts {
		for _, addr := range account.Addresses {
			addrs.Add(addr.String())
		}
	}
	return addrs
}
