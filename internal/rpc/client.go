package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"monerosync/internal/loadbalancer"
	"monerosync/internal/metrics"
	"monerosync/internal/monero"
	"monerosync/internal/retry"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultPipeCapacity bounds how much of a response body is buffered ahead
// of the consumer.
const DefaultPipeCapacity = 64 << 10

var (
	ErrDuplicateCall = errors.New("duplicate call id")
	ErrClientClosed  = errors.New("rpc client closed")
)

// Executor performs one HTTP exchange. *http.Client satisfies it.
type Executor interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the collaborators of a Client. Zero fields get defaults.
type Config struct {
	Rule         loadbalancer.Rule
	Backoff      retry.BackoffPolicy
	Executor     Executor
	PipeCapacity int
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Client routes requests to the nodes of a load balancer, retrying
// connectivity failures with backoff. Any HTTP response, whatever its
// status, ends the retry loop.
type Client struct {
	lb           *loadbalancer.LoadBalancer
	rule         loadbalancer.Rule
	backoff      retry.BackoffPolicy
	executor     Executor
	pipeCapacity int
	clock        clock.Clock
	logger       *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	closed bool

	copyTasks *fn.GoroutineManager
}

// NewClient creates a client over the live set of lb.
func NewClient(lb *loadbalancer.LoadBalancer, cfg Config) *Client {
	if cfg.Rule == nil {
		cfg.Rule = loadbalancer.NewRoundRobinRule()
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.DefaultBackoff()
	}
	if cfg.Executor == nil {
		cfg.Executor = &http.Client{}
	}
	if cfg.PipeCapacity <= 0 {
		cfg.PipeCapacity = DefaultPipeCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		lb:           lb,
		rule:         cfg.Rule,
		backoff:      cfg.Backoff,
		executor:     cfg.Executor,
		pipeCapacity: cfg.PipeCapacity,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With("component", "rpc"),
		active:       make(map[string]context.CancelFunc),
		copyTasks:    fn.NewGoroutineManager(),
	}
}

// NewSingleNodeClient creates a client pinned to node.
func NewSingleNodeClient(node loadbalancer.RemoteNode, cfg Config) *Client {
	lb := loadbalancer.New(node.Network, cfg.Logger)
	lb.Update([]loadbalancer.RemoteNode{node})
	cfg.Rule = loadbalancer.FirstRule{}
	return NewClient(lb, cfg)
}

func (c *Client) Network() monero.Network {
	return c.lb.Network()
}

// LoadBalancer exposes the live node set used by the client.
func (c *Client) LoadBalancer() *loadbalancer.LoadBalancer {
	return c.lb
}

// Execute sends req to a node chosen by the rule. Transport failures are
// retried, possibly on another node, until a response arrives, ctx ends or
// the live set is empty (status 499). The call can be cancelled with
// Cancel(callID) until its body has been fully streamed.
func (c *Client) Execute(ctx context.Context, callID string, req Request) (*Response, error) {
	method, err := normalizeMethod(req.Method)
	if err != nil {
		return nil, err
	}
	header, err := ParseHeader(req.Header)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithCancel(ctx)
	if err := c.register(callID, cancel); err != nil {
		cancel()
		return nil, err
	}
	metrics.RPCInFlight.Inc()

	var finishOnce sync.Once
	finish := func() {
		finishOnce.Do(func() {
			c.unregister(callID)
			cancel()
			metrics.RPCInFlight.Dec()
		})
	}

	c.logger.Debug("Dispatching request", "call_id", callID, "request", req)

	httpResp, node, err := c.executeWithRetry(callCtx, callID, method, header, req)
	if err != nil {
		finish()
		return nil, err
	}
	if httpResp == nil {
		finish()
		return noNodeResponse(), nil
	}

	return c.stream(callCtx, httpResp, node, cancel, finish)
}

// Cancel aborts the transport call and the body copy of callID. Unknown
// ids are ignored.
func (c *Client) Cancel(callID string) {
	c.mu.Lock()
	cancel, ok := c.active[callID]
	c.mu.Unlock()

	if ok {
		c.logger.Debug("Cancelling request", "call_id", callID)
		cancel()
	}
}

// Close cancels every call and waits for the copy tasks to exit.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	for _, cancel := range c.active {
		cancel()
	}
	c.mu.Unlock()

	c.copyTasks.Stop()
}

func (c *Client) register(callID string, cancel context.CancelFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if _, ok := c.active[callID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCall, callID)
	}
	c.active[callID] = cancel
	return nil
}

func (c *Client) unregister(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, callID)
}

func (c *Client) executeWithRetry(ctx context.Context, callID, method string, header http.Header,
	req Request) (*http.Response, loadbalancer.RemoteNode, error) {

	attempts := make(map[string]int)

	for {
		selected := c.rule.ChooseNode(c.lb)
		if selected.IsNone() {
			c.logger.Info("No remote node available", "call_id", callID)
			metrics.RPCNoNodeResponses.Inc()
			return nil, loadbalancer.RemoteNode{}, nil
		}
		node := selected.UnsafeFromSome()

		uri := node.URIForPath(req.Path)
		retryCount := attempts[uri]

		wait := c.backoff.WaitTime(retryCount)
		if wait > 0 {
			metrics.RPCBackoffWait.Observe(wait.Seconds())
		}
		if err := retry.Sleep(ctx, c.clock, wait); err != nil {
			return nil, node, err
		}

		attempts[uri] = retryCount + 1

		httpReq, err := newHTTPRequest(ctx, method, uri, header, req.Body, node)
		if err != nil {
			return nil, node, err
		}

		c.logger.Debug("HTTP request", "call_id", callID, "method", method, "uri", uri,
			"attempt", retryCount+1)

		start := c.clock.Now()
		resp, err := c.executor.Do(httpReq)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				metrics.RPCAttempts.WithLabelValues("cancelled").Inc()
				return nil, node, ctxErr
			}

			c.logger.Warn("HTTP request failed",
				"call_id", callID,
				"node", node,
				"error", err)
			metrics.RPCAttempts.WithLabelValues("transport_error").Inc()
			c.lb.ObserveResponse(node, failureState(err))
			continue
		}

		elapsed := c.clock.Now().Sub(start)
		metrics.RPCAttempts.WithLabelValues("response").Inc()
		metrics.RPCDuration.Observe(elapsed.Seconds())

		if resp.StatusCode == http.StatusUnauthorized {
			c.lb.ObserveResponse(node, loadbalancer.Unauthorized())
		} else {
			c.lb.ObserveResponse(node, loadbalancer.Online(elapsed))
		}

		return resp, node, nil
	}
}

func newHTTPRequest(ctx context.Context, method, uri string, header http.Header, body []byte,
	node loadbalancer.RemoteNode) (*http.Request, error) {

	var reader io.Reader
	if method == http.MethodPost {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, uri, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header = header.Clone()
	if node.HasCredentials() {
		httpReq.SetBasicAuth(node.Username, node.Password)
	}
	return httpReq, nil
}

func failureState(err error) loadbalancer.ConnectionState {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return loadbalancer.Timeout(err)
	}
	return loadbalancer.Failed(err)
}

// stream hands the body to a copy task writing into a bounded pipe. The
// task ends when the body is drained, the reader is closed, the call is
// cancelled or the client is closed; finish runs once it is done.
func (c *Client) stream(ctx context.Context, httpResp *http.Response, node loadbalancer.RemoteNode,
	cancel context.CancelFunc, finish func()) (*Response, error) {

	pr, pw := io.Pipe()

	started := c.copyTasks.Go(ctx, func(taskCtx context.Context) {
		defer finish()
		defer httpResp.Body.Close()

		// Cancellation unblocks the copy on either side of it.
		stop := context.AfterFunc(taskCtx, func() {
			httpResp.Body.Close()
			pw.CloseWithError(taskCtx.Err())
		})
		defer stop()

		err := copyChunks(pw, httpResp.Body, make([]byte, c.pipeCapacity))
		if err != nil && taskCtx.Err() != nil {
			err = taskCtx.Err()
		}
		pw.CloseWithError(err)
	})
	if !started {
		httpResp.Body.Close()
		finish()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClientClosed
	}

	return &Response{
		StatusCode:  httpResp.StatusCode,
		Message:     http.StatusText(httpResp.StatusCode),
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        &pipeBody{PipeReader: pr, release: cancel},
		Node:        fn.Some(node),
	}, nil
}

// copyChunks forwards each read to dst as soon as it arrives. dst blocks
// until the consumer takes the chunk, so at most len(buf) bytes are held.
func copyChunks(dst io.Writer, src io.Reader, buf []byte) error {
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
