package monero

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownNetwork = errors.New("unknown network")

// Network identifies one of the Monero networks. The numeric value matches
// the network id used by the wallet engine.
type Network int

const (
	Mainnet Network = iota
	Testnet
	Stagenet
)

const (
	// DifficultyTargetV1 is the block interval before the v2 hard fork.
	DifficultyTargetV1 = 60 * time.Second

	// DifficultyTargetV2 is the block interval from the v2 hard fork on.
	DifficultyTargetV2 = 120 * time.Second
)

type networkParams struct {
	name      string
	epoch     int64
	v2Height  int64
	v2EpochTS int64
}

var networks = map[Network]networkParams{
	Mainnet:  {name: "mainnet", epoch: 1397818193, v2Height: 1009827, v2EpochTS: 1458748658},
	Testnet:  {name: "testnet", epoch: 1410295020, v2Height: 624634, v2EpochTS: 1448285909},
	Stagenet: {name: "stagenet", epoch: 1518932025, v2Height: 32000, v2EpochTS: 1520937818},
}

// ParseNetwork accepts the lowercase network names ("mainnet", "testnet",
// "stagenet"), case-insensitively.
func ParseNetwork(s string) (Network, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for n, p := range networks {
		if p.name == name {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
}

// NetworkFromID maps the engine's numeric network id.
func NetworkFromID(id int) (Network, error) {
	n := Network(id)
	if !n.Valid() {
		return 0, fmt.Errorf("%w: id %d", ErrUnknownNetwork, id)
	}
	return n, nil
}

func (n Network) Valid() bool {
	_, ok := networks[n]
	return ok
}

func (n Network) ID() int {
	return int(n)
}

func (n Network) String() string {
	if p, ok := networks[n]; ok {
		return p.name
	}
	return fmt.Sprintf("network(%d)", int(n))
}

func (n Network) params() networkParams {
	p, ok := networks[n]
	if !ok {
		panic(fmt.Sprintf("monero: %v", n))
	}
	return p
}

// Epoch returns the genesis block timestamp.
func (n Network) Epoch() time.Time {
	return time.Unix(n.params().epoch, 0).UTC()
}

// AvgBlockTime returns the target block interval at the given height.
func (n Network) AvgBlockTime(height int64) time.Duration {
	if height < n.params().v2Height {
		return DifficultyTargetV1
	}
	return DifficultyTargetV2
}

// GenesisTime is the estimation anchor for heights before the v2 fork.
func (n Network) GenesisTime() BlockchainTime {
	return BlockchainTime{Height: 1, Timestamp: n.Epoch(), Network: n}
}

// V2ForkTime is the estimation anchor from the v2 fork on.
func (n Network) V2ForkTime() BlockchainTime {
	p := n.params()
	return BlockchainTime{Height: p.v2Height, Timestamp: time.Unix(p.v2EpochTS, 0).UTC(), Network: n}
}

// EstimateTimestamp estimates when the block at height was mined, anchoring
// at whichever of genesis or the v2 fork bounds the error.
func (n Network) EstimateTimestamp(height int64) time.Time {
	if height < n.params().v2Height {
		return n.GenesisTime().EstimateTimestamp(height)
	}
	return n.V2ForkTime().EstimateTimestamp(height)
}

// EstimateHeight estimates the chain height at ts.
func (n Network) EstimateHeight(ts time.Time) int64 {
	if ts.Unix() < n.params().v2EpochTS {
		return n.GenesisTime().EstimateHeight(ts)
	}
	return n.V2ForkTime().EstimateHeight(ts)
}

// BlockchainTime builds a time from what the engine reports. Block
// timestamps can be zero during a fast refresh, in which case the timestamp
// is estimated from the height.
func (n Network) BlockchainTime(height int64, epochSecond int64) (BlockchainTime, error) {
	if !n.Valid() {
		return BlockchainTime{}, fmt.Errorf("%w: id %d", ErrUnknownNetwork, int(n))
	}
	if !IsBlockHeightInRange(height) {
		return BlockchainTime{}, fmt.Errorf("%w: height %d", ErrTimeOutOfRange, height)
	}
	ts := time.Unix(epochSecond, 0).UTC()
	if epochSecond == 0 {
		ts = n.EstimateTimestamp(height)
	}
	return NewBlockchainTime(height, ts, n)
}
