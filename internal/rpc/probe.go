package rpc

import (
	"context"
	"io"
	"net/http"
	"time"

	"monerosync/internal/loadbalancer"
	"monerosync/internal/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultProbePath is a cheap daemon endpoint answered without
	// authentication on restricted nodes.
	DefaultProbePath = "/get_height"

	defaultProbeTimeout = 10 * time.Second
	maxConcurrentProbes = 8
)

// ProbeNodes sends one request to every live node concurrently and records
// the observed state. Probes never retry and never affect node selection.
func (c *Client) ProbeNodes(ctx context.Context, path string, timeout time.Duration) []loadbalancer.NodeHealth {
	if path == "" {
		path = DefaultProbePath
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for _, node := range c.lb.Nodes() {
		node := node
		g.Go(func() error {
			state := c.probe(gctx, node, path, timeout)
			c.lb.ObserveResponse(node, state)
			return nil
		})
	}
	_ = g.Wait()

	return c.lb.Health()
}

func (c *Client) probe(ctx context.Context, node loadbalancer.RemoteNode, path string,
	timeout time.Duration) loadbalancer.ConnectionState {

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := newHTTPRequest(ctx, http.MethodGet, node.URIForPath(path), make(http.Header), nil, node)
	if err != nil {
		return loadbalancer.Failed(err)
	}

	start := c.clock.Now()
	resp, err := c.executor.Do(req)
	if err != nil {
		metrics.RPCAttempts.WithLabelValues("probe_error").Inc()
		c.logger.Debug("Node probe failed", "node", node, "error", err)
		return failureState(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	metrics.RPCAttempts.WithLabelValues("probe").Inc()
	if resp.StatusCode == http.StatusUnauthorized {
		return loadbalancer.Unauthorized()
	}
	return loadbalancer.Online(c.clock.Now().Sub(start))
}
