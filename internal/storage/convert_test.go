package storage

import (
	"math"
	"strings"
	"testing"
	"time"

	"monerosync/internal/ledger"
	"monerosync/internal/models"
	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var (
	txHash   = monero.HashDigest(strings.Repeat("ab", 32))
	keyImage = monero.HashDigest(strings.Repeat("cd", 32))
)

func TestAmountConversions(t *testing.T) {
	v, err := amountToInt64(monero.Amount(1_500_000_000_000))
	require.NoError(t, err)
	require.EqualValues(t, 1_500_000_000_000, v)

	_, err = amountToInt64(monero.Amount(math.MaxInt64 + 1))
	require.ErrorIs(t, err, ErrAmountOutOfRange)

	resp, err := amountFromInt64(1_500_000_000_000)
	require.NoError(t, err)
	require.EqualValues(t, 1_500_000_000_000, resp.Atomic)
	require.Equal(t, monero.Amount(1_500_000_000_000).XMR(), resp.XMR)

	_, err = amountFromInt64(-1)
	require.ErrorIs(t, err, monero.ErrNegativeAmount)
}

func TestTransactionRowRoundTrip(t *testing.T) {
	minedAt := time.Unix(1_700_000_000, 0)

	tx := ledger.Transaction{
		Hash: txHash,
		State: ledger.TxState{
			Kind:  ledger.OnChain,
			Block: ledger.BlockHeader{Height: 3_000_000, Timestamp: minedAt},
		},
		Network:  monero.Mainnet,
		TimeLock: fn.Some(monero.Mainnet.UnlockAtHeight(3_000_100)),
		Received: []ledger.Enote{{Amount: 7_000}},
		Sent:     []ledger.Enote{{Amount: 2_000}, {Amount: 1_000}},
		Fee:      30,
		Change:   500,
	}

	row, err := transactionRowOf(tx)
	require.NoError(t, err)
	require.Equal(t, txHash.String(), row.TxHash)
	require.Equal(t, "on_chain", row.State)
	require.NotNil(t, row.BlockHeight)
	require.EqualValues(t, 3_000_000, *row.BlockHeight)
	require.True(t, row.BlockTime.Equal(minedAt))
	require.Equal(t, "unlock at block 3000100", row.TimeLock)
	require.EqualValues(t, 7_000, row.Received)
	require.EqualValues(t, 3_000, row.Sent)
	require.EqualValues(t, 4_000, row.Net)
	require.Empty(t, row.Payments)

	resp, err := row.response()
	require.NoError(t, err)
	require.Equal(t, txHash.String(), resp.TxHash)
	require.EqualValues(t, 7_000, resp.Received.Atomic)
	require.EqualValues(t, 3_000, resp.Sent.Atomic)
	require.EqualValues(t, 30, resp.Fee.Atomic)
	require.EqualValues(t, 500, resp.Change.Atomic)
	require.EqualValues(t, 4_000, resp.NetAtomic)
}

func TestTransactionRowOffChain(t *testing.T) {
	row, err := transactionRowOf(ledger.Transaction{
		Hash:  txHash,
		State: ledger.TxState{Kind: ledger.InMemoryPool},
		Sent:  []ledger.Enote{{Amount: 10}},
	})
	require.NoError(t, err)
	require.Nil(t, row.BlockHeight)
	require.Nil(t, row.BlockTime)
	require.Empty(t, row.TimeLock)
	require.EqualValues(t, -10, row.Net)

	_, err = row.response()
	require.NoError(t, err)
}

func TestTransactionRowRejectsHugeAmounts(t *testing.T) {
	_, err := transactionRowOf(ledger.Transaction{
		Hash:  txHash,
		State: ledger.TxState{Kind: ledger.OffChain},
		Fee:   monero.Amount(math.MaxUint64),
	})
	require.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestEnoteRow(t *testing.T) {
	pk, err := monero.ParsePublicKey(strings.Repeat("11", 32))
	require.NoError(t, err)

	e := ledger.Enote{
		Amount:   42,
		Owner:    monero.AccountAddress{AccountIndex: 1, SubAddressIndex: 3},
		Key:      fn.Some(pk),
		KeyImage: fn.Some(keyImage),
		Age:      12,
		Origin:   ledger.TxOut{TxID: txHash, Index: 2},
	}

	t.Run("unlocked", func(t *testing.T) {
		row, err := enoteRowOf(monero.Unlocked(e))
		require.NoError(t, err)
		require.Equal(t, txHash.String(), row.TxHash)
		require.Equal(t, 2, row.OutputIndex)
		require.Equal(t, 1, row.AccountIndex)
		require.Equal(t, 3, row.SubAddressIndex)
		require.EqualValues(t, 42, row.Amount)
		require.Equal(t, pk.String(), *row.PublicKey)
		require.Equal(t, keyImage.String(), *row.KeyImage)
		require.EqualValues(t, 12, row.Age)
		require.Nil(t, row.UnlockKind)
		require.Nil(t, row.UnlockHeight)
	})

	t.Run("locked", func(t *testing.T) {
		unlock := monero.Mainnet.UnlockAtHeight(3_000_010)
		row, err := enoteRowOf(monero.LockedUntil(e, unlock))
		require.NoError(t, err)
		require.NotNil(t, row.UnlockKind)
		require.Equal(t, unlock.Kind.String(), *row.UnlockKind)
		require.EqualValues(t, 3_000_010, *row.UnlockHeight)
	})

	t.Run("unknown keys", func(t *testing.T) {
		bare := e
		bare.Key = fn.None[monero.PublicKey]()
		bare.KeyImage = fn.None[monero.HashDigest]()
		row, err := enoteRowOf(monero.Unlocked(bare))
		require.NoError(t, err)
		require.Nil(t, row.PublicKey)
		require.Nil(t, row.KeyImage)
	})
}

func TestRemoteNodeOf(t *testing.T) {
	tests := []struct {
		name    string
		rec     models.RemoteNodeRecord
		wantErr bool
	}{
		{
			name: "valid",
			rec:  models.RemoteNodeRecord{URL: "http://node.example:18081/", Network: "mainnet"},
		},
		{
			name: "with credentials",
			rec: models.RemoteNodeRecord{
				URL: "https://node.example", Network: "stagenet", Username: "u", Password: "p",
			},
		},
		{
			name:    "unknown network",
			rec:     models.RemoteNodeRecord{URL: "http://node.example", Network: "regtest"},
			wantErr: true,
		},
		{
			name:    "bad scheme",
			rec:     models.RemoteNodeRecord{URL: "ftp://node.example", Network: "mainnet"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := remoteNodeOf(tt.rec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, strings.TrimRight(tt.rec.URL, "/"), node.URL)
			require.Equal(t, tt.rec.Username, node.Username)
			require.Equal(t, tt.rec.Password, node.Password)
		})
	}
}
