package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"monerosync/internal/loadbalancer"
	"monerosync/internal/models"
	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	mu       sync.Mutex
	records  []models.RemoteNodeRecord
	err      error
	networks []string
}

func (f *fakeLister) ListRemoteNodes(_ context.Context, network string) ([]models.RemoteNodeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, network)
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.RemoteNodeRecord(nil), f.records...), nil
}

func (f *fakeLister) set(records []models.RemoteNodeRecord, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
	f.err = err
}

func receiveNodes(t *testing.T, ch <-chan []loadbalancer.RemoteNode) []loadbalancer.RemoteNode {
	t.Helper()
	select {
	case nodes, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return nodes
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for node list")
		return nil
	}
}

func TestWatchRemoteNodes(t *testing.T) {
	lister := &fakeLister{}
	lister.set([]models.RemoteNodeRecord{
		{ID: 1, URL: "http://a.example:38081", Network: "stagenet", Enabled: true},
		{ID: 2, URL: "not a url", Network: "stagenet", Enabled: true},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tick := ticker.NewForce(time.Hour)
	ch := WatchRemoteNodes(ctx, lister, monero.Stagenet, tick, nil)

	nodes := receiveNodes(t, ch)
	require.Len(t, nodes, 1)
	require.Equal(t, "http://a.example:38081", nodes[0].URL)
	require.Equal(t, monero.Stagenet, nodes[0].Network)

	// A failed poll keeps quiet until the next tick succeeds.
	lister.set(nil, errors.New("connection refused"))
	tick.Force <- time.Now()
	require.Eventually(t, func() bool {
		lister.mu.Lock()
		defer lister.mu.Unlock()
		return len(lister.networks) == 2
	}, 5*time.Second, 10*time.Millisecond)

	lister.set([]models.RemoteNodeRecord{
		{ID: 1, URL: "http://a.example:38081", Network: "stagenet", Enabled: true},
		{ID: 3, URL: "https://b.example", Network: "stagenet", Username: "u", Password: "p", Enabled: true},
	}, nil)
	tick.Force <- time.Now()

	nodes = receiveNodes(t, ch)
	require.Len(t, nodes, 2)
	require.True(t, nodes[1].HasCredentials())

	lister.mu.Lock()
	require.Len(t, lister.networks, 3)
	for _, n := range lister.networks {
		require.Equal(t, "stagenet", n)
	}
	lister.mu.Unlock()

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
