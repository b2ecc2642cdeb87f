package net

import (
	"github.com/rcenet/rce/src/protocol"
)

// RPCResponse captures both a response and a potential error.
type RPCResponse struct {
	Response *protocol.NetworkResponse
	Error    error
}

// RPC encapsulates an incoming request and provides a response mechanism.
type RPC struct {
	Channel  MessageChannel
	Request  *protocol.NetworkRequest
	RespChan chan<- RPCResponse
}

// Respond is used to respond with a response, error or both. An error
// without a response becomes an ExceptionAtDestination failure.
func (r *RPC) Respond(resp *protocol.NetworkResponse, err error) {
	r.RespChan <- RPCResponse{resp, err}
}

func (r RPCResponse) networkResponse(req *protocol.NetworkRequest) *protocol.NetworkResponse {
	switch {
	case r.Response != nil:
		return r.Response
	case r.Error != nil:
		return protocol.CreateFailureResponse(req, protocol.ExceptionAtDestination, r.Error)
	default:
		return protocol.CreateResponseForRequest(req, nil)
	}
}
