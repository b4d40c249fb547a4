package loadbalancer

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"monerosync/internal/metrics"
	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/clock"
)

// LoadBalancer keeps the live set of candidate nodes of one network. The
// set is replaced wholesale on every update, so readers always see a
// complete list.
type LoadBalancer struct {
	network monero.Network
	nodes   atomic.Pointer[[]RemoteNode]

	healthMu sync.RWMutex
	health   map[string]NodeHealth

	clock  clock.Clock
	logger *slog.Logger
}

// New creates a load balancer with an empty live set.
func New(network monero.Network, logger *slog.Logger) *LoadBalancer {
	if logger == nil {
		logger = slog.Default()
	}
	lb := &LoadBalancer{
		network: network,
		health:  make(map[string]NodeHealth),
		clock:   clock.NewDefaultClock(),
		logger:  logger.With("component", "loadbalancer"),
	}
	lb.nodes.Store(&[]RemoteNode{})
	return lb
}

func (lb *LoadBalancer) Network() monero.Network {
	return lb.network
}

// Nodes returns the current live set. The slice must not be modified.
func (lb *LoadBalancer) Nodes() []RemoteNode {
	return *lb.nodes.Load()
}

// Update replaces the live set. Nodes of another network are dropped.
func (lb *LoadBalancer) Update(nodes []RemoteNode) {
	live := make([]RemoteNode, 0, len(nodes))
	for _, node := range nodes {
		if node.Network != lb.network {
			lb.logger.Warn("Ignoring remote node of another network",
				"node", node,
				"expected_network", lb.network)
			continue
		}
		live = append(live, node)
	}

	lb.healthMu.Lock()
	lb.nodes.Store(&live)
	for url := range lb.health {
		if !containsURL(live, url) {
			delete(lb.health, url)
		}
	}
	lb.healthMu.Unlock()
	metrics.LiveNodes.Set(float64(len(live)))

	lb.logger.Debug("Live node set updated", "nodes", len(live))
}

// Subscribe applies every node list received on updates until ctx is done
// or the channel is closed.
func (lb *LoadBalancer) Subscribe(ctx context.Context, updates <-chan []RemoteNode) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case nodes, ok := <-updates:
			if !ok {
				return nil
			}
			lb.Update(nodes)
		}
	}
}

// ObserveResponse records the connection state last seen for node. It is
// used for reporting and never changes node selection. Observations of
// nodes that already left the live set are not kept.
func (lb *LoadBalancer) ObserveResponse(node RemoteNode, state ConnectionState) {
	metrics.NodeObservations.WithLabelValues(state.Kind.String()).Inc()

	lb.healthMu.Lock()
	defer lb.healthMu.Unlock()

	if !containsURL(lb.Nodes(), node.URL) {
		return
	}

	lb.health[node.URL] = NodeHealth{
		Node:       node,
		State:      state,
		ObservedAt: lb.clock.Now(),
	}
}

// Health returns the health of every live node, in live set order. Nodes
// never observed report StateUnknown.
func (lb *LoadBalancer) Health() []NodeHealth {
	nodes := lb.Nodes()

	lb.healthMu.RLock()
	defer lb.healthMu.RUnlock()

	out := make([]NodeHealth, 0, len(nodes))
	for _, node := range nodes {
		h, ok := lb.health[node.URL]
		if !ok {
			h = NodeHealth{Node: node, State: ConnectionState{Kind: StateUnknown}}
		}
		out = append(out, h)
	}
	return out
}

// Contains reports whether node is in the live set.
func (lb *LoadBalancer) Contains(node RemoteNode) bool {
	return slices.Contains(lb.Nodes(), node)
}

func containsURL(nodes []RemoteNode, url string) bool {
	return slices.ContainsFunc(nodes, func(n RemoteNode) bool {
		return n.URL == url
	})
}
