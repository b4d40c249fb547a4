package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"monerosync/internal/metrics"
	"monerosync/internal/models"
	"monerosync/internal/monero"
	"monerosync/internal/rpc"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultMaxMessageSize is the ceiling for the serialized size of one
// listener batch.
const DefaultMaxMessageSize = 1 << 20

// BatchSize is the default number of records per listener chunk.
const BatchSize = DefaultMaxMessageSize / models.MaxRecordSize

var (
	ErrSessionStopped    = errors.New("refresh session stopped")
	ErrRequestsSuspended = errors.New("remote requests suspended")
)

// Config wires a Session.
type Config struct {
	Engine    SyncEngine
	Client    RemoteClient
	Network   monero.Network
	BatchSize int
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Session serializes refresh runs of one wallet on a single worker
// goroutine and fans ledger updates out to listeners.
type Session struct {
	engine    SyncEngine
	client    RemoteClient
	network   monero.Network
	batchSize int
	clock     clock.Clock
	logger    *slog.Logger

	jobs chan func()

	// runMu guards the cancel function of the latest run.
	runMu     sync.Mutex
	runSeq    uint64
	runID     uint64
	runCancel context.CancelFunc

	// listenersMu guards registration and notification as one unit.
	listenersMu sync.Mutex
	listeners   map[Listener]*listenerQueue

	requestsMu      sync.Mutex
	requestsAllowed bool
	pendingCalls    fn.Set[string]

	started sync.Once
	stopped sync.Once
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewSession validates cfg and returns a session that is not yet started.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("sync engine is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if !cfg.Network.Valid() {
		return nil, fmt.Errorf("%w: %d", monero.ErrUnknownNetwork, cfg.Network)
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must not be negative: %d", cfg.BatchSize)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = BatchSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		engine:          cfg.Engine,
		client:          cfg.Client,
		network:         cfg.Network,
		batchSize:       cfg.BatchSize,
		clock:           cfg.Clock,
		logger:          cfg.Logger.With("component", "refresh", "network", cfg.Network),
		jobs:            make(chan func()),
		listeners:       make(map[Listener]*listenerQueue),
		requestsAllowed: true,
		pendingCalls:    fn.NewSet[string](),
		quit:            make(chan struct{}),
	}, nil
}

// Start launches the worker goroutine.
func (s *Session) Start() {
	s.started.Do(func() {
		s.wg.Add(1)
		go s.worker()
	})
}

// Stop cancels the running refresh, waits for the worker and detaches every
// listener.
func (s *Session) Stop() {
	s.stopped.Do(func() {
		s.CancelRefresh()
		close(s.quit)
		s.wg.Wait()

		s.listenersMu.Lock()
		for l, q := range s.listeners {
			q.stop()
			delete(s.listeners, l)
		}
		s.listenersMu.Unlock()
		metrics.Listeners.Set(0)
	})
}

func (s *Session) worker() {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobs:
			job()
		case <-s.quit:
			return
		}
	}
}

// ResumeRefresh supersedes any running refresh and schedules a new one. It
// returns once the worker has taken the run, so a CancelRefresh issued
// afterwards always reaches it. The channel yields exactly one Result.
func (s *Session) ResumeRefresh(ctx context.Context, skipCoinbase bool) <-chan Result {
	results := make(chan Result, 1)

	runCtx, cancel := context.WithCancel(ctx)
	id := s.supersede(cancel)

	job := func() {
		defer s.release(id)
		s.run(runCtx, skipCoinbase, results)
	}

	select {
	case s.jobs <- job:

	case <-ctx.Done():
		s.release(id)
		s.deliver(results, StatusInterrupted, ctx.Err())

	case <-s.quit:
		s.release(id)
		s.deliver(results, StatusInterrupted, ErrSessionStopped)
	}

	return results
}

// CancelRefresh interrupts the running refresh, if any. It is safe to call
// at any time and more than once.
func (s *Session) CancelRefresh() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.runCancel != nil {
		s.logger.Debug("Cancelling refresh", "run", s.runID)
		s.runCancel()
	}
}

func (s *Session) supersede(cancel context.CancelFunc) uint64 {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.runCancel != nil {
		s.logger.Info("Superseding running refresh", "run", s.runID)
		s.runCancel()
	}
	s.runSeq++
	s.runID = s.runSeq
	s.runCancel = cancel
	return s.runID
}

// release cancels the context of run id and forgets it unless a newer run
// took its place.
func (s *Session) release(id uint64) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.runID == id && s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
}

func (s *Session) run(ctx context.Context, skipCoinbase bool, results chan<- Result) {
	start := s.clock.Now()

	status, err := StatusInterrupted, ctx.Err()
	if err == nil {
		s.logger.Info("Refresh started", "skip_coinbase", skipCoinbase)
		status, err = s.engine.Refresh(ctx, skipCoinbase, s)
	}

	switch {
	case ctx.Err() != nil && status != StatusOK:
		status = StatusInterrupted
	case err != nil && status == StatusOK:
		status = StatusRefreshError
	}

	metrics.RefreshDuration.Observe(s.clock.Now().Sub(start).Seconds())
	s.deliver(results, status, err)
}

func (s *Session) deliver(results chan<- Result, status Status, err error) {
	t := s.engine.CurrentTime()
	metrics.RefreshRuns.WithLabelValues(status.String()).Inc()

	if status == StatusOK {
		s.logger.Info("Refresh finished", "status", status, "time", t)
	} else {
		s.logger.Warn("Refresh finished", "status", status, "time", t, "error", err)
	}

	results <- Result{Status: status, Time: t, Err: err}
	close(results)
}

// AddListener registers l and replays the last known state to it before
// any later event. The state is read under the registry lock so an update
// racing with the registration is either part of the replay or delivered
// after it.
func (s *Session) AddListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if _, ok := s.listeners[l]; ok {
		return
	}
	q := newListenerQueue(l)
	s.listeners[l] = q
	metrics.Listeners.Set(float64(len(s.listeners)))

	records := s.engine.History()
	subAddresses := s.engine.SubAddresses()
	t := s.engine.CurrentTime()
	q.pushHistory(records, subAddresses, t, s.batchSize)
}

func (s *Session) RemoveListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	q, ok := s.listeners[l]
	if !ok {
		return
	}
	delete(s.listeners, l)
	metrics.Listeners.Set(float64(len(s.listeners)))
	q.stop()
}

// OnRefresh implements Callbacks.
func (s *Session) OnRefresh(height, timestamp int64, balanceChanged bool) {
	t, err := s.network.BlockchainTime(height, timestamp)
	if err != nil {
		s.logger.Warn("Ignoring refresh progress", "height", height, "timestamp", timestamp,
			"error", err)
		return
	}
	metrics.ChainHeight.Set(float64(height))

	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if len(s.listeners) == 0 {
		return
	}

	if !balanceChanged {
		for _, q := range s.listeners {
			q.push("refreshed", func(l Listener) {
				l.OnRefreshed(t)
			})
		}
		return
	}

	records := s.engine.History()
	subAddresses := s.engine.SubAddresses()
	for _, q := range s.listeners {
		q.pushHistory(records, subAddresses, t, s.batchSize)
	}
}

// OnSubAddressesChanged implements Callbacks.
func (s *Session) OnSubAddressesChanged() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if len(s.listeners) == 0 {
		return
	}
	subAddresses := s.engine.SubAddresses()
	for _, q := range s.listeners {
		q.push("sub_addresses", func(l Listener) {
			l.OnSubAddressListUpdated(subAddresses)
		})
	}
}

// SuspendRequests implements Callbacks.
func (s *Session) SuspendRequests(suspending bool) {
	s.requestsMu.Lock()
	defer s.requestsMu.Unlock()

	s.requestsAllowed = !suspending
	if !suspending {
		return
	}
	for callID := range s.pendingCalls {
		s.client.Cancel(callID)
	}
}

// CallRemoteNode implements Callbacks. The returned response body must be
// closed by the caller.
func (s *Session) CallRemoteNode(ctx context.Context, req rpc.Request) (*rpc.Response, error) {
	callID := rpc.NewCallID()

	s.requestsMu.Lock()
	if !s.requestsAllowed {
		s.requestsMu.Unlock()
		return nil, ErrRequestsSuspended
	}
	s.pendingCalls.Add(callID)
	s.requestsMu.Unlock()

	defer func() {
		s.requestsMu.Lock()
		s.pendingCalls.Remove(callID)
		s.requestsMu.Unlock()
	}()

	resp, err := s.client.Execute(ctx, callID, req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("Remote node call failed", "request", req, "error", err)
		}
		return nil, err
	}
	return resp, nil
}
