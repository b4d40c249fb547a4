package rpc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"monerosync/internal/loadbalancer"
	"monerosync/internal/monero"

	"github.com/stretchr/testify/require"
)

type noWait struct{}

func (noWait) WaitTime(int) time.Duration { return 0 }

// flakyExecutor fails the first failures calls and then delegates.
type flakyExecutor struct {
	mu       sync.Mutex
	failures int
	calls    []string
	next     Executor
}

func (e *flakyExecutor) Do(req *http.Request) (*http.Response, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req.URL.String())
	fail := len(e.calls) <= e.failures
	e.mu.Unlock()

	if fail {
		return nil, errors.New("connection refused")
	}
	return e.next.Do(req)
}

func testNode(t *testing.T, rawURL string) loadbalancer.RemoteNode {
	t.Helper()
	node, err := loadbalancer.NewRemoteNode(rawURL, monero.Stagenet, "", "")
	require.NoError(t, err)
	return node
}

func newTestClient(t *testing.T, nodes []loadbalancer.RemoteNode, executor Executor) *Client {
	t.Helper()
	lb := loadbalancer.New(monero.Stagenet, nil)
	lb.Update(nodes)
	client := NewClient(lb, Config{
		Rule:     loadbalancer.FirstRule{},
		Backoff:  noWait{},
		Executor: executor,
	})
	t.Cleanup(client.Close)
	return client
}

func readBody(t *testing.T, resp *Response) string {
	t.Helper()
	defer resp.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    http.Header
		wantErr bool
	}{
		{name: "empty", raw: "", want: http.Header{}},
		{
			name: "two fields",
			raw:  "Content-Type: application/json\r\nX-Trace:  abc ",
			want: http.Header{"Content-Type": {"application/json"}, "X-Trace": {"abc"}},
		},
		{
			name: "blank lines skipped",
			raw:  "\r\nAccept: */*\r\n\r\n",
			want: http.Header{"Accept": {"*/*"}},
		},
		{name: "missing colon", raw: "Accept */*", wantErr: true},
		{name: "empty key", raw: ": value", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeader(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidHeader)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestExecuteUnsupportedMethod(t *testing.T) {
	client := newTestClient(t, nil, nil)

	_, err := client.Execute(context.Background(), NewCallID(), Request{Method: "PUT", Path: "/"})
	require.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestExecuteNoNodeAvailable(t *testing.T) {
	client := newTestClient(t, nil, nil)

	resp, err := client.Execute(context.Background(), NewCallID(), Request{Method: "get", Path: "/get_height"})
	require.NoError(t, err)
	require.Equal(t, StatusNoNodeAvailable, resp.StatusCode)
	require.True(t, resp.Node.IsNone())
	require.Empty(t, readBody(t, resp))
}

func TestExecuteRetriesTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"height":1500}`)
	}))
	defer server.Close()

	node := testNode(t, server.URL)
	executor := &flakyExecutor{failures: 2, next: server.Client()}
	client := newTestClient(t, []loadbalancer.RemoteNode{node}, executor)

	resp, err := client.Execute(context.Background(), NewCallID(), Request{Method: "GET", Path: "/get_height"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.ContentType)
	require.Equal(t, node, resp.Node.UnwrapOrFail(t))
	require.Equal(t, `{"height":1500}`, readBody(t, resp))

	require.Len(t, executor.calls, 3)
	for _, call := range executor.calls {
		require.Equal(t, server.URL+"/get_height", call)
	}

	health := client.LoadBalancer().Health()
	require.Equal(t, loadbalancer.StateOnline, health[0].State.Kind)
}

func TestExecuteReturnsErrorStatus(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, []loadbalancer.RemoteNode{testNode(t, server.URL)}, server.Client())

	resp, err := client.Execute(context.Background(), NewCallID(), Request{Method: "POST", Path: "/json_rpc"})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "busy\n", readBody(t, resp))
	require.EqualValues(t, 1, hits.Load())
}

func TestExecuteSendsBodyHeaderAndCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "monero" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Echo", r.Header.Get("X-Trace"))
		_, _ = io.Copy(w, r.Body)
	}))
	defer server.Close()

	node, err := loadbalancer.NewRemoteNode(server.URL, monero.Stagenet, "monero", "secret")
	require.NoError(t, err)
	client := newTestClient(t, []loadbalancer.RemoteNode{node}, server.Client())

	resp, err := client.Execute(context.Background(), NewCallID(), Request{
		Method: "POST",
		Path:   "/json_rpc",
		Header: "Content-Type: application/json\r\nX-Trace: 42",
		Body:   []byte(`{"method":"get_info"}`),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"method":"get_info"}`, readBody(t, resp))

	// Without credentials the node answers 401, which is returned as is.
	anonymous := newTestClient(t, []loadbalancer.RemoteNode{testNode(t, server.URL)}, server.Client())
	resp, err = anonymous.Execute(context.Background(), NewCallID(), Request{Method: "GET", Path: "/"})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NoError(t, resp.Close())
	require.Equal(t, loadbalancer.StateUnauthorized, anonymous.LoadBalancer().Health()[0].State.Kind)
}

func TestExecuteStreamsLargeBody(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 1<<16)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	lb := loadbalancer.New(monero.Stagenet, nil)
	lb.Update([]loadbalancer.RemoteNode{testNode(t, server.URL)})
	client := NewClient(lb, Config{Backoff: noWait{}, Executor: server.Client(), PipeCapacity: 1024})
	defer client.Close()

	resp, err := client.Execute(context.Background(), NewCallID(), Request{Method: "GET", Path: "/get_blocks.bin"})
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, payload, body)
	require.NoError(t, resp.Close())
	require.NoError(t, resp.Close())
}

// blockingServer answers /slow only once the request is cancelled.
func blockingServer(t *testing.T) (*httptest.Server, <-chan struct{}) {
	t.Helper()
	arrived := make(chan struct{}, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			arrived <- struct{}{}
			<-r.Context().Done()
			return
		}
		_, _ = io.WriteString(w, "fast")
	}))
	t.Cleanup(server.Close)
	return server, arrived
}

func TestCancelAffectsOnlyItsCall(t *testing.T) {
	server, arrived := blockingServer(t)
	client := newTestClient(t, []loadbalancer.RemoteNode{testNode(t, server.URL)}, server.Client())

	slowID := NewCallID()
	slowErr := make(chan error, 1)
	go func() {
		_, err := client.Execute(context.Background(), slowID, Request{Method: "GET", Path: "/slow"})
		slowErr <- err
	}()
	<-arrived

	_, err := client.Execute(context.Background(), slowID, Request{Method: "GET", Path: "/slow"})
	require.ErrorIs(t, err, ErrDuplicateCall)

	client.Cancel(NewCallID())
	client.Cancel(slowID)
	require.ErrorIs(t, <-slowErr, context.Canceled)

	resp, err := client.Execute(context.Background(), NewCallID(), Request{Method: "GET", Path: "/fast"})
	require.NoError(t, err)
	require.Equal(t, "fast", readBody(t, resp))

	// The id is free again once the call has ended.
	resp, err = client.Execute(context.Background(), slowID, Request{Method: "GET", Path: "/fast"})
	require.NoError(t, err)
	require.Equal(t, "fast", readBody(t, resp))
}

func TestCancelWhileStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "first chunk")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newTestClient(t, []loadbalancer.RemoteNode{testNode(t, server.URL)}, server.Client())

	callID := NewCallID()
	resp, err := client.Execute(context.Background(), callID, Request{Method: "GET", Path: "/"})
	require.NoError(t, err)
	defer resp.Close()

	buf := make([]byte, len("first chunk"))
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	require.Equal(t, "first chunk", string(buf))

	client.Cancel(callID)
	_, err = io.ReadAll(resp.Body)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCloseResponseReleasesStalledCall(t *testing.T) {
	released := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "first")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	}))
	defer server.Close()

	client := newTestClient(t, []loadbalancer.RemoteNode{testNode(t, server.URL)}, server.Client())

	callID := NewCallID()
	resp, err := client.Execute(context.Background(), callID, Request{Method: "GET", Path: "/"})
	require.NoError(t, err)

	buf := make([]byte, len("first"))
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	require.NoError(t, resp.Close())

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("transport body still open after the response was closed")
	}

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		_, ok := client.active[callID]
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClose(t *testing.T) {
	server, arrived := blockingServer(t)
	client := newTestClient(t, []loadbalancer.RemoteNode{testNode(t, server.URL)}, server.Client())

	errs := make(chan error, 1)
	go func() {
		_, err := client.Execute(context.Background(), NewCallID(), Request{Method: "GET", Path: "/slow"})
		errs <- err
	}()
	<-arrived

	client.Close()
	require.ErrorIs(t, <-errs, context.Canceled)

	_, err := client.Execute(context.Background(), NewCallID(), Request{Method: "GET", Path: "/fast"})
	require.ErrorIs(t, err, ErrClientClosed)
}

func TestNewSingleNodeClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	defer server.Close()

	client := NewSingleNodeClient(testNode(t, server.URL), Config{Backoff: noWait{}, Executor: server.Client()})
	defer client.Close()

	require.Equal(t, monero.Stagenet, client.Network())

	resp, err := client.Execute(context.Background(), NewCallID(), Request{Method: "GET", Path: "get_info"})
	require.NoError(t, err)
	require.Equal(t, "get_info", readBody(t, resp))
}
