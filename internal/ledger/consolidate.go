package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"monerosync/internal/models"
	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrUnknownSubAddress means the account list and the transaction
	// history are out of sync. A ledger must not be built from them.
	ErrUnknownSubAddress = errors.New("unknown sub-address")

	// ErrInconsistentRecords means records of one transaction disagree on
	// its state.
	ErrInconsistentRecords = errors.New("inconsistent tx records")
)

// txGroup collects the records sharing one tx hash, plus the indices of
// the enotes they produced.
type txGroup struct {
	hash     monero.HashDigest
	records  []models.TxRecord
	received []int
}

// Consolidate folds raw engine records into transactions and the set of
// time-locked enotes that exist on chain or in the pool.
//
// Incoming records produce enotes, numbered by their position among
// incoming records. Outgoing records reference the key images they spend.
// Enotes spent by a non-failed transaction come back with Spent set.
func Consolidate(
	records []models.TxRecord,
	accounts []monero.WalletAccount,
	now monero.BlockchainTime,
	logger *slog.Logger,
) (map[monero.HashDigest]Transaction, []monero.TimeLocked[Enote], error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		enotes     []Enote
		byKeyImage = make(map[monero.HashDigest]int)
		groups     = make(map[monero.HashDigest]*txGroup)
		order      []monero.HashDigest
	)

	for i, record := range records {
		if err := record.Validate(); err != nil {
			return nil, nil, fmt.Errorf("record %d: %w", i, err)
		}
		hash, err := monero.ParseHashDigest(record.TxHash)
		if err != nil {
			return nil, nil, fmt.Errorf("record %d: %w: %v", i, models.ErrInvalidRecord, err)
		}

		group, ok := groups[hash]
		if !ok {
			group = &txGroup{hash: hash}
			groups[hash] = group
			order = append(order, hash)
		}
		group.records = append(group.records, record)

		if !record.Incoming {
			continue
		}

		enote, err := toEnote(record, hash, len(enotes), now.Height, accounts)
		if err != nil {
			return nil, nil, err
		}
		idx := len(enotes)
		enotes = append(enotes, enote)
		group.received = append(group.received, idx)
		enote.KeyImage.WhenSome(func(ki monero.HashDigest) {
			byKeyImage[ki] = idx
		})
	}

	type draft struct {
		tx       Transaction
		sent     []int
		received []int
	}

	drafts := make([]draft, 0, len(order))
	spent := make([]bool, len(enotes))

	for _, hash := range order {
		group := groups[hash]

		tx, err := group.transaction(now, logger)
		if err != nil {
			return nil, nil, err
		}

		sent, err := group.sentEnotes(byKeyImage)
		if err != nil {
			return nil, nil, err
		}
		if tx.State.Kind != Failed {
			for _, idx := range sent {
				spent[idx] = true
			}
		}

		drafts = append(drafts, draft{tx: tx, sent: sent, received: group.received})
	}

	for i := range enotes {
		enotes[i].Spent = spent[i]
	}

	pick := func(indices []int) []Enote {
		out := make([]Enote, 0, len(indices))
		for _, idx := range indices {
			out = append(out, enotes[idx])
		}
		slices.SortFunc(out, func(a, b Enote) int {
			return compareTxOut(a.Origin, b.Origin)
		})
		return out
	}

	txByID := make(map[monero.HashDigest]Transaction, len(drafts))
	valid := make([]monero.TimeLocked[Enote], 0, len(enotes))

	for _, d := range drafts {
		tx := d.tx
		tx.Sent = pick(d.sent)
		tx.Received = pick(d.received)
		txByID[tx.Hash] = tx

		// Outputs of a failed transaction never existed on chain.
		if tx.State.Kind == Failed {
			continue
		}

		unlock := fn.MapOption(func(height int64) monero.UnlockTime {
			return now.EffectiveUnlockTime(height, tx.TimeLock)
		})(tx.BlockHeight())

		for _, enote := range tx.Received {
			valid = append(valid, monero.TimeLocked[Enote]{Value: enote, UnlockTime: unlock})
		}
	}

	slices.SortFunc(valid, func(a, b monero.TimeLocked[Enote]) int {
		return compareTxOut(a.Value.Origin, b.Value.Origin)
	})

	return txByID, valid, nil
}

func toEnote(
	record models.TxRecord,
	hash monero.HashDigest,
	txOutIndex int,
	currentHeight int64,
	accounts []monero.WalletAccount,
) (Enote, error) {
	owner, err := monero.FindAddressByIndex(
		accounts, record.SubAddressMajor, record.SubAddressMinor,
	).UnwrapOrErr(fmt.Errorf("%w: %d/%d", ErrUnknownSubAddress,
		record.SubAddressMajor, record.SubAddressMinor))
	if err != nil {
		return Enote{}, err
	}

	var age int64
	if record.Height > 0 {
		age = max(currentHeight-record.Height+1, 0)
	}

	enote := Enote{
		Amount:   monero.Amount(record.Amount),
		Owner:    owner,
		Key:      fn.None[monero.PublicKey](),
		KeyImage: fn.None[monero.HashDigest](),
		Age:      age,
		Origin:   TxOut{TxID: hash, Index: txOutIndex},
	}

	if record.PublicKey != "" {
		key, err := monero.ParsePublicKey(record.PublicKey)
		if err != nil {
			return Enote{}, fmt.Errorf("tx %s: %w: %v", hash, models.ErrInvalidRecord, err)
		}
		enote.Key = fn.Some(key)
	}
	if record.KeyImage != "" {
		ki, err := monero.ParseHashDigest(record.KeyImage)
		if err != nil {
			return Enote{}, fmt.Errorf("tx %s: %w: %v", hash, models.ErrInvalidRecord, err)
		}
		enote.KeyImage = fn.Some(ki)
	}

	return enote, nil
}

// transaction derives the Transaction of the group, without its enotes.
func (g *txGroup) transaction(now monero.BlockchainTime, logger *slog.Logger) (Transaction, error) {
	first := g.records[0]

	var (
		maxHeight, maxTimestamp int64
		maxFee, maxChange       int64
		maxUnlock               uint64
		payments                []PaymentDetail
	)

	for _, r := range g.records {
		if r.State != first.State {
			return Transaction{}, fmt.Errorf("%w: tx %s reported as both %s and %s",
				ErrInconsistentRecords, g.hash, first.State, r.State)
		}
		maxHeight = max(maxHeight, r.Height)
		maxTimestamp = max(maxTimestamp, r.Timestamp)
		maxFee = max(maxFee, r.Fee)
		maxChange = max(maxChange, r.Change)
		maxUnlock = max(maxUnlock, r.UnlockTime)

		if r.Incoming || r.Recipient == "" {
			continue
		}
		recipient, err := monero.ParsePublicAddress(r.Recipient)
		if err != nil {
			logger.Debug("Dropping unparseable payment recipient",
				"tx_hash", g.hash,
				"error", err,
			)
			continue
		}
		payments = append(payments, PaymentDetail{
			Amount:    monero.Amount(r.Amount),
			Recipient: recipient,
		})
	}

	state, err := txState(first.State, maxHeight, maxTimestamp, now.Network)
	if err != nil {
		return Transaction{}, fmt.Errorf("tx %s: %w", g.hash, err)
	}

	return Transaction{
		Hash:     g.hash,
		State:    state,
		Network:  now.Network,
		TimeLock: now.ResolveUnlockTime(maxUnlock),
		Payments: payments,
		Fee:      monero.Amount(maxFee),
		Change:   monero.Amount(maxChange),
	}, nil
}

// sentEnotes resolves the key images spent by the group's outgoing records
// against every enote of the history.
func (g *txGroup) sentEnotes(byKeyImage map[monero.HashDigest]int) ([]int, error) {
	keyImages := fn.NewSet[monero.HashDigest]()
	for _, r := range g.records {
		if r.Incoming || r.KeyImage == "" {
			continue
		}
		ki, err := monero.ParseHashDigest(r.KeyImage)
		if err != nil {
			return nil, fmt.Errorf("tx %s: %w: %v", g.hash, models.ErrInvalidRecord, err)
		}
		keyImages.Add(ki)
	}

	var sent []int
	for ki := range keyImages {
		if idx, ok := byKeyImage[ki]; ok {
			sent = append(sent, idx)
		}
	}
	slices.Sort(sent)
	return sent, nil
}

func txState(state models.TxRecordState, height, timestamp int64, network monero.Network) (TxState, error) {
	switch state {
	case models.StateOffChain:
		return TxState{Kind: OffChain}, nil
	case models.StatePending:
		return TxState{Kind: InMemoryPool}, nil
	case models.StateFailed:
		return TxState{Kind: Failed}, nil
	case models.StateOnChain:
		bt, err := network.BlockchainTime(height, timestamp)
		if err != nil {
			return TxState{}, err
		}
		return TxState{
			Kind:  OnChain,
			Block: BlockHeader{Height: bt.Height, Timestamp: bt.Timestamp},
		}, nil
	default:
		return TxState{}, fmt.Errorf("%w: invalid tx state value %d", models.ErrInvalidRecord, state)
	}
}
