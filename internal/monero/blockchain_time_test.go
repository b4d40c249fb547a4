package monero

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

func TestNewBlockchainTimeRanges(t *testing.T) {
	ts := time.Unix(1600000000, 0)

	_, err := NewBlockchainTime(-1, ts, Mainnet)
	require.ErrorIs(t, err, ErrTimeOutOfRange)

	_, err = NewBlockchainTime(MaxHeight+1, ts, Mainnet)
	require.ErrorIs(t, err, ErrTimeOutOfRange)

	_, err = NewBlockchainTime(100, time.Unix(MaxHeight, 0), Mainnet)
	require.ErrorIs(t, err, ErrTimeOutOfRange)

	bt, err := NewBlockchainTime(MaxHeight, ts, Mainnet)
	require.NoError(t, err)
	require.Equal(t, int64(MaxHeight), bt.Height)
}

func TestNetworkEstimatesAnchorAtForks(t *testing.T) {
	for _, network := range []Network{Mainnet, Testnet, Stagenet} {
		t.Run(network.String(), func(t *testing.T) {
			genesis := network.GenesisTime()
			fork := network.V2ForkTime()

			require.Equal(t, genesis.Timestamp, network.EstimateTimestamp(1))
			require.Equal(t, fork.Timestamp, network.EstimateTimestamp(fork.Height))

			require.Equal(t, fork.Timestamp.Add(10*DifficultyTargetV2),
				network.EstimateTimestamp(fork.Height+10))
			require.Equal(t, genesis.Timestamp.Add(10*DifficultyTargetV1),
				network.EstimateTimestamp(11))

			require.Equal(t, fork.Height+10,
				network.EstimateHeight(fork.Timestamp.Add(10*DifficultyTargetV2)))
			require.Equal(t, int64(11),
				network.EstimateHeight(genesis.Timestamp.Add(10*DifficultyTargetV1)))
		})
	}
}

func TestEstimateHeightIsClamped(t *testing.T) {
	genesis := Mainnet.GenesisTime()

	require.Equal(t, int64(0), genesis.EstimateHeight(genesis.Timestamp.Add(-24*time.Hour)))
	require.Equal(t, int64(MaxHeight), genesis.EstimateHeight(time.Unix(maxEpochSecond, 0)))
}

func TestEstimateTimestampRejectsNegativeHeight(t *testing.T) {
	require.Panics(t, func() {
		Mainnet.GenesisTime().EstimateTimestamp(-1)
	})
}

func TestCompareAcrossNetworksPanics(t *testing.T) {
	require.Panics(t, func() {
		Mainnet.GenesisTime().Compare(Stagenet.GenesisTime())
	})
	require.Panics(t, func() {
		Mainnet.UnlockAtHeight(100).After(Testnet.GenesisTime())
	})

	require.Equal(t, -1, Mainnet.GenesisTime().Compare(Mainnet.V2ForkTime()))
	require.Equal(t, 0, Mainnet.V2ForkTime().Compare(Mainnet.V2ForkTime()))
}

func TestEffectiveUnlockTime(t *testing.T) {
	now := Mainnet.V2ForkTime()

	unlock := now.EffectiveUnlockTime(now.Height, fn.None[UnlockTime]())
	require.Equal(t, UnlockAtBlock, unlock.Kind)
	require.Equal(t, now.Height+DefaultTxSpendableAge-1, unlock.Time.Height)

	later := Mainnet.UnlockAtHeight(now.Height + 1000)
	require.Equal(t, later, now.EffectiveUnlockTime(now.Height, fn.Some(later)))

	earlier := Mainnet.UnlockAtHeight(now.Height + 2)
	unlock = now.EffectiveUnlockTime(now.Height, fn.Some(earlier))
	require.Equal(t, now.Height+DefaultTxSpendableAge-1, unlock.Time.Height)
}

func TestResolveUnlockTime(t *testing.T) {
	now := Mainnet.V2ForkTime()

	require.True(t, now.ResolveUnlockTime(0).IsNone())

	byHeight := now.ResolveUnlockTime(1_500_000).UnwrapOrFail(t)
	require.Equal(t, UnlockAtBlock, byHeight.Kind)
	require.Equal(t, int64(1_500_000), byHeight.Time.Height)
	require.Equal(t, now.EstimateTimestamp(1_500_000), byHeight.Time.Timestamp)

	byTime := now.ResolveUnlockTime(2_000_000_000).UnwrapOrFail(t)
	require.Equal(t, UnlockAtTimestamp, byTime.Kind)
	require.Equal(t, int64(2_000_000_000), byTime.Time.Timestamp.Unix())
	require.Equal(t, now.EstimateHeight(byTime.Time.Timestamp), byTime.Time.Height)

	beforeGenesis := now.ResolveUnlockTime(MaxBlockNumber).UnwrapOrFail(t)
	require.Equal(t, UnlockAtTimestamp, beforeGenesis.Kind)
	require.Equal(t, Mainnet.Epoch(), beforeGenesis.Time.Timestamp)
}

func TestUntilAndTimeRemaining(t *testing.T) {
	start := Mainnet.V2ForkTime()
	end := BlockchainTime{
		Height:    start.Height + 5,
		Timestamp: start.Timestamp.Add(10 * time.Minute),
		Network:   Mainnet,
	}

	span := start.Until(end)
	require.Equal(t, BlockchainTimeSpan{Duration: 10 * time.Minute, Blocks: 5}, span)
	require.Equal(t, span, end.Sub(start))

	back := end.Until(start)
	require.Equal(t, time.Duration(0), back.TimeRemaining())
	require.Equal(t, int64(-5), back.Blocks)
}

func TestNetworkBlockchainTimeEstimatesZeroTimestamp(t *testing.T) {
	bt, err := Stagenet.BlockchainTime(40000, 0)
	require.NoError(t, err)
	require.Equal(t, Stagenet.EstimateTimestamp(40000), bt.Timestamp)

	bt, err = Stagenet.BlockchainTime(40000, 1600000000)
	require.NoError(t, err)
	require.Equal(t, int64(1600000000), bt.Timestamp.Unix())

	_, err = Network(7).BlockchainTime(1, 1600000000)
	require.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork("Stagenet")
	require.NoError(t, err)
	require.Equal(t, Stagenet, n)

	n, err = NetworkFromID(1)
	require.NoError(t, err)
	require.Equal(t, Testnet, n)

	_, err = ParseNetwork("regtest")
	require.ErrorIs(t, err, ErrUnknownNetwork)
}
