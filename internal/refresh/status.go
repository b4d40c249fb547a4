package refresh

import (
	"context"
	"fmt"

	"monerosync/internal/models"
	"monerosync/internal/monero"
	"monerosync/internal/rpc"
)

// Status is the outcome of one refresh run.
type Status int

const (
	StatusOK Status = iota
	StatusInterrupted
	StatusNoNetworkConnectivity
	StatusRefreshError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInterrupted:
		return "interrupted"
	case StatusNoNetworkConnectivity:
		return "no_network_connectivity"
	case StatusRefreshError:
		return "refresh_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is delivered once per ResumeRefresh call.
type Result struct {
	Status Status
	Time   monero.BlockchainTime
	Err    error
}

// SyncEngine scans the chain for one wallet. Refresh is never invoked
// concurrently with itself. History, SubAddresses and CurrentTime may be
// called from any goroutine while a refresh is running.
type SyncEngine interface {
	Refresh(ctx context.Context, skipCoinbase bool, callbacks Callbacks) (Status, error)
	History() []models.TxRecord
	SubAddresses() []string
	CurrentTime() monero.BlockchainTime
}

// Callbacks is the session surface an engine talks to during a refresh.
type Callbacks interface {
	// OnRefresh reports progress. A zero timestamp is estimated from the
	// height.
	OnRefresh(height, timestamp int64, balanceChanged bool)

	OnSubAddressesChanged()

	// SuspendRequests(true) cancels pending remote calls and refuses new
	// ones until SuspendRequests(false).
	SuspendRequests(suspending bool)

	CallRemoteNode(ctx context.Context, req rpc.Request) (*rpc.Response, error)
}

// RemoteClient is the part of rpc.Client used by a session.
type RemoteClient interface {
	Execute(ctx context.Context, callID string, req rpc.Request) (*rpc.Response, error)
	Cancel(callID string)
}
