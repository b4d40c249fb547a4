package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"monerosync/internal/models"
	"monerosync/internal/monero"
	"monerosync/internal/rpc"

	"github.com/stretchr/testify/require"
)

const eventTimeout = 5 * time.Second

type refreshFunc func(ctx context.Context, skipCoinbase bool, cb Callbacks) (Status, error)

type fakeEngine struct {
	mu           sync.Mutex
	records      []models.TxRecord
	subAddresses []string
	tip          monero.BlockchainTime
	refresh      refreshFunc
	calls        int

	// beforeHistory runs once, after History took its snapshot.
	beforeHistory func()
}

func (e *fakeEngine) Refresh(ctx context.Context, skipCoinbase bool, cb Callbacks) (Status, error) {
	e.mu.Lock()
	e.calls++
	refresh := e.refresh
	e.mu.Unlock()

	if refresh == nil {
		return StatusOK, nil
	}
	return refresh(ctx, skipCoinbase, cb)
}

func (e *fakeEngine) History() []models.TxRecord {
	e.mu.Lock()
	records := append([]models.TxRecord(nil), e.records...)
	hook := e.beforeHistory
	e.beforeHistory = nil
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	return records
}

func (e *fakeEngine) SubAddresses() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.subAddresses...)
}

func (e *fakeEngine) CurrentTime() monero.BlockchainTime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tip
}

// fakeClient answers immediately unless the path is /slow, which blocks
// until the call is cancelled.
type fakeClient struct {
	mu      sync.Mutex
	calls   map[string]chan struct{}
	arrived chan string
}

func newFakeClient() *fakeClient {
	return &fakeClient{calls: make(map[string]chan struct{}), arrived: make(chan string, 4)}
}

func (c *fakeClient) Execute(ctx context.Context, callID string, req rpc.Request) (*rpc.Response, error) {
	cancelled := make(chan struct{})
	c.mu.Lock()
	c.calls[callID] = cancelled
	c.mu.Unlock()

	if req.Path == "/slow" {
		c.arrived <- callID
		select {
		case <-cancelled:
			return nil, context.Canceled
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &rpc.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func (c *fakeClient) Cancel(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.calls[callID]; ok {
		close(ch)
		delete(c.calls, callID)
	}
}

type recordedEvent struct {
	kind         string
	chunk        []models.TxRecord
	subAddresses []string
	time         monero.BlockchainTime
}

type recordingListener struct {
	events chan recordedEvent
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan recordedEvent, 1024)}
}

func (l *recordingListener) OnPartial(chunk []models.TxRecord) {
	l.events <- recordedEvent{kind: "partial", chunk: chunk}
}

func (l *recordingListener) OnFinalized(chunk []models.TxRecord, subAddresses []string, t monero.BlockchainTime) {
	l.events <- recordedEvent{kind: "finalized", chunk: chunk, subAddresses: subAddresses, time: t}
}

func (l *recordingListener) OnRefreshed(t monero.BlockchainTime) {
	l.events <- recordedEvent{kind: "refreshed", time: t}
}

func (l *recordingListener) OnSubAddressListUpdated(subAddresses []string) {
	l.events <- recordedEvent{kind: "sub_addresses", subAddresses: subAddresses}
}

func (l *recordingListener) next(t *testing.T) recordedEvent {
	t.Helper()
	select {
	case ev := <-l.events:
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for listener event")
		return recordedEvent{}
	}
}

// collectHistory reads events up to and including the finalized one.
func (l *recordingListener) collectHistory(t *testing.T) ([]recordedEvent, []models.TxRecord) {
	t.Helper()
	var (
		events  []recordedEvent
		records []models.TxRecord
	)
	for {
		ev := l.next(t)
		events = append(events, ev)
		records = append(records, ev.chunk...)
		if ev.kind == "finalized" {
			return events, records
		}
		require.Equal(t, "partial", ev.kind)
	}
}

func testTip(t *testing.T) monero.BlockchainTime {
	t.Helper()
	tip, err := monero.Stagenet.BlockchainTime(1_600_000, 1_712_000_000)
	require.NoError(t, err)
	return tip
}

func testRecords(n int) []models.TxRecord {
	records := make([]models.TxRecord, n)
	for i := range records {
		records[i] = models.TxRecord{
			TxHash:   fmt.Sprintf("%064x", i+1),
			Amount:   int64(i + 1),
			Height:   int64(1000 + i),
			State:    models.StateOnChain,
			Incoming: true,
		}
	}
	return records
}

func newTestSession(t *testing.T, engine *fakeEngine, client RemoteClient, batchSize int) *Session {
	t.Helper()
	if client == nil {
		client = newFakeClient()
	}
	session, err := NewSession(Config{
		Engine:    engine,
		Client:    client,
		Network:   monero.Stagenet,
		BatchSize: batchSize,
	})
	require.NoError(t, err)
	session.Start()
	t.Cleanup(session.Stop)
	return session
}

func awaitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case res, ok := <-results:
		require.True(t, ok)
		_, open := <-results
		require.False(t, open, "exactly one result per run")
		return res
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for refresh result")
		return Result{}
	}
}

func TestNewSessionValidation(t *testing.T) {
	engine := &fakeEngine{}
	client := newFakeClient()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no engine", cfg: Config{Client: client, Network: monero.Mainnet}},
		{name: "no client", cfg: Config{Engine: engine, Network: monero.Mainnet}},
		{name: "bad network", cfg: Config{Engine: engine, Client: client, Network: monero.Network(7)}},
		{name: "negative batch", cfg: Config{Engine: engine, Client: client, BatchSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(tt.cfg)
			require.Error(t, err)
		})
	}

	session, err := NewSession(Config{Engine: engine, Client: client, Network: monero.Mainnet})
	require.NoError(t, err)
	require.Equal(t, BatchSize, session.batchSize)
}

func TestResumeRefreshStatuses(t *testing.T) {
	boom := errors.New("wallet2 exploded")

	tests := []struct {
		name       string
		status     Status
		err        error
		wantStatus Status
	}{
		{name: "ok", status: StatusOK, wantStatus: StatusOK},
		{name: "no connectivity", status: StatusNoNetworkConnectivity, wantStatus: StatusNoNetworkConnectivity},
		{name: "engine error", status: StatusRefreshError, err: boom, wantStatus: StatusRefreshError},
		{name: "error with ok status", status: StatusOK, err: boom, wantStatus: StatusRefreshError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{
				tip: testTip(t),
				refresh: func(context.Context, bool, Callbacks) (Status, error) {
					return tt.status, tt.err
				},
			}
			session := newTestSession(t, engine, nil, 0)

			res := awaitResult(t, session.ResumeRefresh(context.Background(), false))
			require.Equal(t, tt.wantStatus, res.Status)
			require.Equal(t, engine.tip, res.Time)
			if tt.err != nil {
				require.ErrorIs(t, res.Err, tt.err)
			}
		})
	}
}

func TestCancelRefresh(t *testing.T) {
	started := make(chan bool, 1)
	engine := &fakeEngine{
		tip: testTip(t),
		refresh: func(ctx context.Context, skipCoinbase bool, _ Callbacks) (Status, error) {
			started <- skipCoinbase
			<-ctx.Done()
			return StatusRefreshError, ctx.Err()
		},
	}
	session := newTestSession(t, engine, nil, 0)

	// Cancelling while idle is a no-op.
	session.CancelRefresh()

	results := session.ResumeRefresh(context.Background(), true)
	session.CancelRefresh()

	res := awaitResult(t, results)
	require.Equal(t, StatusInterrupted, res.Status)
	require.ErrorIs(t, res.Err, context.Canceled)

	// The run may have been cancelled before reaching the engine.
	select {
	case skip := <-started:
		require.True(t, skip)
	default:
	}

	session.CancelRefresh()
	session.CancelRefresh()
}

func TestResumeRefreshSupersedes(t *testing.T) {
	started := make(chan struct{}, 2)
	var (
		mu    sync.Mutex
		first = true
	)
	engine := &fakeEngine{
		tip: testTip(t),
		refresh: func(ctx context.Context, _ bool, _ Callbacks) (Status, error) {
			mu.Lock()
			blocking := first
			first = false
			mu.Unlock()

			if !blocking {
				return StatusOK, nil
			}
			started <- struct{}{}
			<-ctx.Done()
			return StatusRefreshError, ctx.Err()
		},
	}
	session := newTestSession(t, engine, nil, 0)

	firstResults := session.ResumeRefresh(context.Background(), false)
	<-started

	secondResults := session.ResumeRefresh(context.Background(), false)

	require.Equal(t, StatusInterrupted, awaitResult(t, firstResults).Status)
	require.Equal(t, StatusOK, awaitResult(t, secondResults).Status)
	require.Equal(t, 2, engine.calls)
}

func TestResumeRefreshAfterStop(t *testing.T) {
	engine := &fakeEngine{tip: testTip(t)}
	session := newTestSession(t, engine, nil, 0)
	session.Stop()

	res := awaitResult(t, session.ResumeRefresh(context.Background(), false))
	require.Equal(t, StatusInterrupted, res.Status)
	require.ErrorIs(t, res.Err, ErrSessionStopped)
	require.Zero(t, engine.calls)
}

func TestChunkedReplay(t *testing.T) {
	const batchSize = 64

	engine := &fakeEngine{
		records:      testRecords(1000),
		subAddresses: []string{"0/0/primary", "0/1/sub"},
		tip:          testTip(t),
	}
	session := newTestSession(t, engine, nil, batchSize)

	listener := newRecordingListener()
	session.AddListener(listener)

	events, records := listener.collectHistory(t)
	require.Len(t, events, 16)
	for _, ev := range events[:15] {
		require.Equal(t, "partial", ev.kind)
		require.Len(t, ev.chunk, batchSize)
	}

	last := events[15]
	require.Equal(t, "finalized", last.kind)
	require.Len(t, last.chunk, 1000-15*batchSize)
	require.Equal(t, engine.subAddresses, last.subAddresses)
	require.Equal(t, engine.tip, last.time)
	require.Equal(t, engine.records, records)

	// Adding the same listener again does not replay twice.
	session.AddListener(listener)
	select {
	case ev := <-listener.events:
		t.Fatalf("unexpected event %q", ev.kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyHistoryReplay(t *testing.T) {
	engine := &fakeEngine{subAddresses: []string{"0/0/primary"}, tip: testTip(t)}
	session := newTestSession(t, engine, nil, 8)

	listener := newRecordingListener()
	session.AddListener(listener)

	ev := listener.next(t)
	require.Equal(t, "finalized", ev.kind)
	require.NotNil(t, ev.chunk)
	require.Empty(t, ev.chunk)
	require.Equal(t, []string{"0/0/primary"}, ev.subAddresses)
}

func TestOnRefreshNotifiesListeners(t *testing.T) {
	engine := &fakeEngine{
		records:      testRecords(3),
		subAddresses: []string{"0/0/primary"},
		tip:          testTip(t),
	}
	engine.refresh = func(_ context.Context, _ bool, cb Callbacks) (Status, error) {
		cb.OnRefresh(1_600_010, 1_712_001_200, false)
		cb.OnRefresh(1_600_020, 0, true)
		cb.OnSubAddressesChanged()
		return StatusOK, nil
	}
	session := newTestSession(t, engine, nil, 2)

	listener := newRecordingListener()
	session.AddListener(listener)
	_, replayed := listener.collectHistory(t)
	require.Len(t, replayed, 3)

	require.Equal(t, StatusOK, awaitResult(t, session.ResumeRefresh(context.Background(), false)).Status)

	ev := listener.next(t)
	require.Equal(t, "refreshed", ev.kind)
	require.EqualValues(t, 1_600_010, ev.time.Height)
	require.Equal(t, time.Unix(1_712_001_200, 0).UTC(), ev.time.Timestamp.UTC())

	events, records := listener.collectHistory(t)
	require.Len(t, events, 2)
	require.Equal(t, engine.records, records)

	estimated, err := monero.Stagenet.BlockchainTime(1_600_020, 0)
	require.NoError(t, err)
	require.Equal(t, estimated, events[1].time)
	require.False(t, events[1].time.Timestamp.IsZero())

	ev = listener.next(t)
	require.Equal(t, "sub_addresses", ev.kind)
	require.Equal(t, engine.subAddresses, ev.subAddresses)
}

func TestAddListenerDuringUpdate(t *testing.T) {
	engine := &fakeEngine{
		records:      testRecords(2),
		subAddresses: []string{"0/0/primary"},
		tip:          testTip(t),
	}
	session := newTestSession(t, engine, nil, 10)

	// The engine moves to a newer history right after the replay snapshot
	// was taken and reports it while the listener is being registered.
	engine.mu.Lock()
	engine.beforeHistory = func() {
		engine.mu.Lock()
		engine.records = testRecords(5)
		engine.mu.Unlock()

		done := make(chan struct{})
		go func() {
			session.OnRefresh(1_600_020, 1_712_001_200, true)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}
	engine.mu.Unlock()

	listener := newRecordingListener()
	session.AddListener(listener)

	_, replayed := listener.collectHistory(t)
	require.Len(t, replayed, 2)

	_, updated := listener.collectHistory(t)
	require.Len(t, updated, 5)
}

func TestRemoveListener(t *testing.T) {
	engine := &fakeEngine{tip: testTip(t)}
	session := newTestSession(t, engine, nil, 0)

	removed := newRecordingListener()
	kept := newRecordingListener()
	session.AddListener(removed)
	session.AddListener(kept)
	require.Equal(t, "finalized", removed.next(t).kind)
	require.Equal(t, "finalized", kept.next(t).kind)

	session.RemoveListener(removed)
	session.RemoveListener(removed)

	session.OnRefresh(1_600_001, 1_712_000_120, false)
	require.Equal(t, "refreshed", kept.next(t).kind)

	select {
	case ev := <-removed.events:
		t.Fatalf("removed listener got %q", ev.kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSuspendRequests(t *testing.T) {
	client := newFakeClient()
	session := newTestSession(t, &fakeEngine{tip: testTip(t)}, client, 0)

	errs := make(chan error, 1)
	go func() {
		_, err := session.CallRemoteNode(context.Background(), rpc.Request{Method: "GET", Path: "/slow"})
		errs <- err
	}()
	<-client.arrived

	session.SuspendRequests(true)
	require.ErrorIs(t, <-errs, context.Canceled)

	_, err := session.CallRemoteNode(context.Background(), rpc.Request{Method: "GET", Path: "/fast"})
	require.ErrorIs(t, err, ErrRequestsSuspended)

	session.SuspendRequests(false)
	resp, err := session.CallRemoteNode(context.Background(), rpc.Request{Method: "GET", Path: "/fast"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCancelRefreshCancelsRemoteCalls(t *testing.T) {
	client := newFakeClient()
	engine := &fakeEngine{tip: testTip(t)}
	engine.refresh = func(ctx context.Context, _ bool, cb Callbacks) (Status, error) {
		_, err := cb.CallRemoteNode(ctx, rpc.Request{Method: "POST", Path: "/slow"})
		if err != nil {
			return StatusNoNetworkConnectivity, err
		}
		return StatusOK, nil
	}
	session := newTestSession(t, engine, client, 0)

	results := session.ResumeRefresh(context.Background(), false)
	<-client.arrived
	session.CancelRefresh()

	res := awaitResult(t, results)
	require.Equal(t, StatusInterrupted, res.Status)
	require.ErrorIs(t, res.Err, context.Canceled)
}
