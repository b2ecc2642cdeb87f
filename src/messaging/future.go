package messaging

import (
	"context"
	"sync"

	"github.com/rcenet/rce/src/protocol"
)

// ResponseFuture is the eventual response of a routed request.
type ResponseFuture struct {
	requestID string
	done      chan struct{}
	once      sync.Once
	resp      *protocol.NetworkResponse
}

func newResponseFuture(requestID string) *ResponseFuture {
	return &ResponseFuture{
		requestID: requestID,
		done:      make(chan struct{}),
	}
}

func (f *ResponseFuture) complete(resp *protocol.NetworkResponse) {
	f.once.Do(func() {
		f.resp = resp
		close(f.done)
	})
}

// RequestID returns the id of the request. It is empty if the request could
// not be built.
func (f *ResponseFuture) RequestID() string {
	return f.requestID
}

// Done is closed when the response is available.
func (f *ResponseFuture) Done() <-chan struct{} {
	return f.done
}

// Response returns the response, or nil if it did not arrive yet.
func (f *ResponseFuture) Response() *protocol.NetworkResponse {
	select {
	case <-f.done:
		return f.resp
	default:
		return nil
	}
}

// Await waits for the response. The request is not cancelled when ctx is;
// its response is simply not waited for anymore.
func (f *ResponseFuture) Await(ctx context.Context) (*protocol.NetworkResponse, error) {
	select {
	case <-f.done:
		return f.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
