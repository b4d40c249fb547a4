package loadbalancer

import (
	"fmt"
	"time"
)

// StateKind classifies the outcome of a request to a remote node.
type StateKind uint8

const (
	StateUnknown StateKind = iota

	// StateOnline: the node answered.
	StateOnline

	// StateTimeout: no response arrived in time.
	StateTimeout

	// StateFailed: the request failed for another reason.
	StateFailed

	// StateUnauthorized: the node rejected the credentials.
	StateUnauthorized
)

func (k StateKind) String() string {
	switch k {
	case StateUnknown:
		return "unknown"
	case StateOnline:
		return "online"
	case StateTimeout:
		return "timeout"
	case StateFailed:
		return "failed"
	case StateUnauthorized:
		return "unauthorized"
	default:
		return fmt.Sprintf("state(%d)", uint8(k))
	}
}

// ConnectionState is a single observation of a node.
type ConnectionState struct {
	Kind         StateKind
	ResponseTime time.Duration // StateOnline only
	Err          error
}

func Online(responseTime time.Duration) ConnectionState {
	return ConnectionState{Kind: StateOnline, ResponseTime: responseTime}
}

func Timeout(err error) ConnectionState {
	return ConnectionState{Kind: StateTimeout, Err: err}
}

func Failed(err error) ConnectionState {
	return ConnectionState{Kind: StateFailed, Err: err}
}

func Unauthorized() ConnectionState {
	return ConnectionState{Kind: StateUnauthorized}
}

// NodeHealth is the last observation of a live node.
type NodeHealth struct {
	Node       RemoteNode
	State      ConnectionState
	ObservedAt time.Time
}
