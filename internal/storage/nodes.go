package storage

import (
	"context"
	"log/slog"

	"monerosync/internal/loadbalancer"
	"monerosync/internal/models"
	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/ticker"
)

// NodeLister is the part of Repository WatchRemoteNodes reads from
type NodeLister interface {
	ListRemoteNodes(ctx context.Context, network string) ([]models.RemoteNodeRecord, error)
}

// WatchRemoteNodes polls the configured remote nodes of network. The current
// list is emitted once immediately and then on every tick. A failed poll
// emits nothing so the load balancer keeps its previous list. The channel is
// closed when ctx is done.
func WatchRemoteNodes(ctx context.Context, lister NodeLister, network monero.Network,
	t ticker.Ticker, logger *slog.Logger) <-chan []loadbalancer.RemoteNode {

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "node-watcher", "network", network.String())

	out := make(chan []loadbalancer.RemoteNode)

	go func() {
		defer close(out)

		t.Resume()
		defer t.Stop()

		for {
			nodes, err := loadRemoteNodes(ctx, lister, network, logger)
			if err != nil {
				logger.Warn("Failed to load remote nodes", "error", err)
			} else {
				select {
				case out <- nodes:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-t.Ticks():
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func loadRemoteNodes(ctx context.Context, lister NodeLister, network monero.Network,
	logger *slog.Logger) ([]loadbalancer.RemoteNode, error) {

	records, err := lister.ListRemoteNodes(ctx, network.String())
	if err != nil {
		return nil, err
	}

	nodes := make([]loadbalancer.RemoteNode, 0, len(records))
	for _, rec := range records {
		node, err := remoteNodeOf(rec)
		if err != nil {
			logger.Warn("Skipping invalid remote node",
				"id", rec.ID,
				"url", rec.URL,
				"error", err)
			continue
		}
		nodes = append(nodes, node)
	}

	return nodes, nil
}
