package net

import (
	"sync"
	"time"

	"github.com/rcenet/rce/src/protocol"
)

type pendingRequest struct {
	handler ResponseHandler
	timer   *time.Timer
}

// pendingRequests correlates responses with the requests of one channel.
// Every added request is completed exactly once: by its response, by its
// timeout, or by failAll.
type pendingRequests struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
	closed  bool
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{
		entries: make(map[string]*pendingRequest),
	}
}

// add returns false if failAll was already called.
func (p *pendingRequests) add(id string, handler ResponseHandler, timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	entry := &pendingRequest{handler: handler}
	p.entries[id] = entry

	entry.timer = time.AfterFunc(timeout, func() {
		if p.take(id, entry) {
			handler(protocol.NewFailureResponse(id, protocol.Timeout, nil))
		}
	})

	return true
}

// take removes the entry if it is still the one registered under id.
func (p *pendingRequests) take(id string, entry *pendingRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.entries[id]; ok && cur == entry {
		delete(p.entries, id)
		return true
	}
	return false
}

// complete hands the response to the handler of its request, in a separate
// goroutine. It returns false if the request is unknown or already
// completed.
func (p *pendingRequests) complete(resp *protocol.NetworkResponse) bool {
	p.mu.Lock()
	entry, ok := p.entries[resp.RequestID]
	if ok {
		delete(p.entries, resp.RequestID)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}

	entry.timer.Stop()
	go entry.handler(resp)
	return true
}

// failAll completes every pending request with a failure, synchronously, and
// refuses new requests.
func (p *pendingRequests) failAll(code protocol.ResultCode, err error) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*pendingRequest)
	p.closed = true
	p.mu.Unlock()

	for id, entry := range entries {
		entry.timer.Stop()
		entry.handler(protocol.NewFailureResponse(id, code, err))
	}
}

func (p *pendingRequests) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
