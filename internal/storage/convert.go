package storage

import (
	"errors"
	"fmt"
	"math"
	"time"

	"monerosync/internal/ledger"
	"monerosync/internal/loadbalancer"
	"monerosync/internal/models"
	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrAmountOutOfRange is returned for amounts that do not fit a BIGINT column
var ErrAmountOutOfRange = errors.New("amount out of range")

func amountToInt64(a monero.Amount) (int64, error) {
	if a.AtomicUnits() > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d", ErrAmountOutOfRange, a.AtomicUnits())
	}
	return int64(a.AtomicUnits()), nil
}

func amountFromInt64(v int64) (models.AmountResponse, error) {
	a, err := monero.FromAtomic(v)
	if err != nil {
		return models.AmountResponse{}, err
	}
	return models.AmountOf(a), nil
}

// transactionRow is one row of wallet_transactions
type transactionRow struct {
	TxHash      string
	State       string
	BlockHeight *int64
	BlockTime   *time.Time
	TimeLock    string
	Received    int64
	Sent        int64
	Net         int64
	Fee         int64
	Change      int64
	Payments    []models.PaymentResponse
}

func transactionRowOf(tx ledger.Transaction) (transactionRow, error) {
	row := transactionRow{
		TxHash:   tx.Hash.String(),
		State:    tx.State.Kind.String(),
		Payments: make([]models.PaymentResponse, 0, len(tx.Payments)),
	}

	if tx.State.Kind == ledger.OnChain {
		height := tx.State.Block.Height
		blockTime := tx.State.Block.Timestamp.UTC()
		row.BlockHeight = &height
		row.BlockTime = &blockTime
	}
	row.TimeLock = fn.MapOptionZ(tx.TimeLock, monero.UnlockTime.String)

	received, err := tx.AmountReceived()
	if err != nil {
		return row, fmt.Errorf("failed to sum received enotes of %s: %w", tx.Hash, err)
	}
	sent, err := tx.AmountSent()
	if err != nil {
		return row, fmt.Errorf("failed to sum sent enotes of %s: %w", tx.Hash, err)
	}
	net, err := tx.NetAmount()
	if err != nil {
		return row, err
	}

	amounts := []struct {
		dst *int64
		src monero.Amount
	}{
		{&row.Received, received},
		{&row.Sent, sent},
		{&row.Fee, tx.Fee},
		{&row.Change, tx.Change},
	}
	for _, a := range amounts {
		if *a.dst, err = amountToInt64(a.src); err != nil {
			return row, fmt.Errorf("tx %s: %w", tx.Hash, err)
		}
	}
	row.Net = net

	for _, p := range tx.Payments {
		row.Payments = append(row.Payments, models.PaymentResponse{
			Recipient: p.Recipient.String(),
			Amount:    models.AmountOf(p.Amount),
		})
	}

	return row, nil
}

func (r transactionRow) response() (models.TransactionResponse, error) {
	resp := models.TransactionResponse{
		TxHash:      r.TxHash,
		State:       r.State,
		BlockHeight: r.BlockHeight,
		BlockTime:   r.BlockTime,
		TimeLock:    r.TimeLock,
		NetAtomic:   r.Net,
		Payments:    r.Payments,
	}

	amounts := []struct {
		dst *models.AmountResponse
		src int64
	}{
		{&resp.Received, r.Received},
		{&resp.Sent, r.Sent},
		{&resp.Fee, r.Fee},
		{&resp.Change, r.Change},
	}
	for _, a := range amounts {
		var err error
		if *a.dst, err = amountFromInt64(a.src); err != nil {
			return resp, fmt.Errorf("tx %s: %w", r.TxHash, err)
		}
	}

	return resp, nil
}

// TransactionResponseOf renders a transaction the way ListTransactions
// returns it
func TransactionResponseOf(tx ledger.Transaction) (models.TransactionResponse, error) {
	row, err := transactionRowOf(tx)
	if err != nil {
		return models.TransactionResponse{}, err
	}
	return row.response()
}

// enoteRow is one row of wallet_enotes
type enoteRow struct {
	TxHash          string
	OutputIndex     int
	AccountIndex    int
	SubAddressIndex int
	Amount          int64
	PublicKey       *string
	KeyImage        *string
	Age             int64
	Spent           bool
	UnlockKind      *string
	UnlockHeight    *int64
	UnlockTime      *time.Time
}

func enoteRowOf(locked monero.TimeLocked[ledger.Enote]) (enoteRow, error) {
	e := locked.Value

	amount, err := amountToInt64(e.Amount)
	if err != nil {
		return enoteRow{}, fmt.Errorf("enote %s: %w", e.Origin, err)
	}

	row := enoteRow{
		TxHash:          e.Origin.TxID.String(),
		OutputIndex:     e.Origin.Index,
		AccountIndex:    e.Owner.AccountIndex,
		SubAddressIndex: e.Owner.SubAddressIndex,
		Amount:          amount,
		Age:             e.Age,
		Spent:           e.Spent,
	}

	e.Key.WhenSome(func(pk monero.PublicKey) {
		s := pk.String()
		row.PublicKey = &s
	})
	e.KeyImage.WhenSome(func(ki monero.HashDigest) {
		s := ki.String()
		row.KeyImage = &s
	})
	locked.UnlockTime.WhenSome(func(u monero.UnlockTime) {
		kind := u.Kind.String()
		height := u.Time.Height
		ts := u.Time.Timestamp.UTC()
		row.UnlockKind = &kind
		row.UnlockHeight = &height
		row.UnlockTime = &ts
	})

	return row, nil
}

// remoteNodeOf converts a stored node for the load balancer
func remoteNodeOf(rec models.RemoteNodeRecord) (loadbalancer.RemoteNode, error) {
	network, err := monero.ParseNetwork(rec.Network)
	if err != nil {
		return loadbalancer.RemoteNode{}, err
	}
	return loadbalancer.NewRemoteNode(rec.URL, network, rec.Username, rec.Password)
}
