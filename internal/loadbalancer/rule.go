package loadbalancer

import (
	"fmt"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Rule picks one node of the live set, or none when the set is empty.
type Rule interface {
	ChooseNode(lb *LoadBalancer) fn.Option[RemoteNode]
}

// FirstRule always picks the first live node.
type FirstRule struct{}

func (FirstRule) ChooseNode(lb *LoadBalancer) fn.Option[RemoteNode] {
	nodes := lb.Nodes()
	if len(nodes) == 0 {
		return fn.None[RemoteNode]()
	}
	return fn.Some(nodes[0])
}

// RoundRobinRule cycles through the live set. It is safe for concurrent
// use.
type RoundRobinRule struct {
	next atomic.Uint64
}

func NewRoundRobinRule() *RoundRobinRule {
	return &RoundRobinRule{}
}

func (r *RoundRobinRule) ChooseNode(lb *LoadBalancer) fn.Option[RemoteNode] {
	nodes := lb.Nodes()
	if len(nodes) == 0 {
		return fn.None[RemoteNode]()
	}
	idx := (r.next.Add(1) - 1) % uint64(len(nodes))
	return fn.Some(nodes[idx])
}

// ParseRule maps a configuration name to a rule.
func ParseRule(name string) (Rule, error) {
	switch name {
	case "first":
		return FirstRule{}, nil
	case "round_robin", "":
		return NewRoundRobinRule(), nil
	default:
		return nil, fmt.Errorf("unknown load balancer rule %q", name)
	}
}
