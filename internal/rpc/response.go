package rpc

import (
	"io"
	"net/http"
	"sync"

	"monerosync/internal/loadbalancer"

	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// StatusNoNodeAvailable is returned when the live set is empty.
	StatusNoNodeAvailable = 499

	noNodeMessage = "No remote node available"
)

// Response is the node's answer. Body streams the HTTP body through a
// bounded pipe and must be closed by the consumer.
type Response struct {
	StatusCode  int
	Message     string
	ContentType string
	Body        io.ReadCloser

	// Node that served the response, none for StatusNoNodeAvailable.
	Node fn.Option[loadbalancer.RemoteNode]
}

// Close releases the body. It is idempotent.
func (r *Response) Close() error {
	return r.Body.Close()
}

func noNodeResponse() *Response {
	return &Response{
		StatusCode: StatusNoNodeAvailable,
		Message:    noNodeMessage,
		Body:       http.NoBody,
		Node:       fn.None[loadbalancer.RemoteNode](),
	}
}

// pipeBody is the read side of the copy pipe. Closing it cancels the call
// so a copy task blocked on a stalled node releases the transport body.
type pipeBody struct {
	*io.PipeReader
	release func()
	once    sync.Once
	err     error
}

func (b *pipeBody) Close() error {
	b.once.Do(func() {
		b.err = b.PipeReader.Close()
		b.release()
	})
	return b.err
}
