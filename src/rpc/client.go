package rpc

import (
	"context"
	"fmt"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/messaging"
	"github.com/rcenet/rce/src/protocol"
)

// Requester sends routed requests. It is implemented by messaging.Service.
type Requester interface {
	PerformRoutedRequest(content []byte, t protocol.MessageType, dest identity.InstanceNodeSessionID) *messaging.ResponseFuture
}

// Client invokes the methods of one service of a remote node.
type Client struct {
	requester Requester
	schema    *protocol.Schema
	dest      identity.InstanceNodeSessionID
	service   string
}

// NewClient creates a client of the named service on node dest.
func NewClient(requester Requester, schema *protocol.Schema, dest identity.InstanceNodeSessionID, service string) *Client {
	return &Client{
		requester: requester,
		schema:    schema,
		dest:      dest,
		service:   service,
	}
}

// Destination returns the node the client talks to.
func (c *Client) Destination() identity.InstanceNodeSessionID {
	return c.dest
}

// Invoke calls a method and returns its result. It fails with a RemoteError
// if the method failed, with a *protocol.ResponseError if the call could not
// be delivered or decoded, and with ctx.Err() if ctx is done first.
func (c *Client) Invoke(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	content, err := encodeCall(c.schema, c.service, method, args)
	if err != nil {
		return nil, err
	}

	f := c.requester.PerformRoutedRequest(content, protocol.MessageTypeRPC, c.dest)
	resp, err := f.Await(ctx)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var res wireResult
	if err := protocol.Decode(resp.Content, &res); err != nil {
		return nil, fmt.Errorf("%w: result of %s.%s: %v", protocol.ErrMalformed, c.service, method, err)
	}
	if res.Error != nil {
		return nil, &RemoteError{
			Service: c.service,
			Method:  method,
			Type:    res.Error.Type,
			Message: res.Error.Message,
		}
	}
	return c.schema.Deserialize(res.Value)
}
