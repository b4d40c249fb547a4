package ledger

import (
	"testing"

	"monerosync/internal/models"
	"monerosync/internal/monero"

	"github.com/stretchr/testify/require"
)

// testRecordsSpend receives 10 XMR at height 100, then spends it at 110
// paying 4 XMR with 5 XMR of change to subaddress 0/1.
func testRecordsSpend() []models.TxRecord {
	change := incoming(2, 0xa2, 5*xmr, 110)
	change.SubAddressMinor = 1
	change.Fee = xmr / 10

	return []models.TxRecord{
		incoming(1, 0xa1, 10*xmr, 100),
		outgoing(2, 0xa1, 4*xmr, 110),
		change,
	}
}

func TestVerifySuccessorChain(t *testing.T) {
	accounts := testAccounts(t)
	records := testRecordsSpend()

	var chain []*Ledger
	for i, height := range []int64{105, 150, 200} {
		l, err := BuildLedger(records[:i+1], accounts, chainAt(t, height), nil)
		require.NoError(t, err)
		chain = append(chain, l)
	}

	require.NoError(t, VerifySuccessor(nil, chain[0]))
	for i := 1; i < len(chain); i++ {
		require.NoError(t, VerifySuccessor(chain[i-1], chain[i]))
		require.Empty(t, chain[i-1].KeyImages().Diff(chain[i].KeyImages()))
	}

	restamped := chain[2].WithCheckedAt(chainAt(t, 300))
	require.NoError(t, VerifySuccessor(chain[2], restamped))
	require.Equal(t, int64(200), chain[2].CheckedAt.Height)
}

func TestVerifySuccessorViolations(t *testing.T) {
	accounts := testAccounts(t)
	records := testRecordsSpend()

	full, err := BuildLedger(records, accounts, chainAt(t, 200), nil)
	require.NoError(t, err)

	// Drops the second transaction and its key image.
	partial, err := BuildLedger(records[:1], accounts, chainAt(t, 210), nil)
	require.NoError(t, err)
	err = VerifySuccessor(full, partial)
	require.ErrorIs(t, err, ErrNotSuccessor)
	require.ErrorContains(t, err, "transactions disappeared")

	earlier := full.WithCheckedAt(chainAt(t, 150))
	require.ErrorIs(t, VerifySuccessor(full, earlier), ErrNotSuccessor)

	fewer, err := monero.AggregateAccounts([]string{"0/0/" + primaryAddress, "0/1/" + subAddress})
	require.NoError(t, err)
	shrunk, err := BuildLedger(records, fewer, chainAt(t, 210), nil)
	require.NoError(t, err)
	err = VerifySuccessor(full, shrunk)
	require.ErrorIs(t, err, ErrNotSuccessor)
	require.ErrorContains(t, err, "addresses disappeared")

	require.ErrorIs(t, VerifySuccessor(full, nil), ErrNotSuccessor)
}
