package rpc

import (
	"context"
	"fmt"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/protocol"
)

// CallbackProxy calls a callback object living on another node.
type CallbackProxy struct {
	objectID string
	home     identity.InstanceNodeSessionID
	client   *Client
}

// CreateCallbackProxy returns a proxy to the object objectID of node home.
func CreateCallbackProxy(requester Requester, schema *protocol.Schema, objectID string, home identity.InstanceNodeSessionID) *CallbackProxy {
	return &CallbackProxy{
		objectID: objectID,
		home:     home,
		client:   NewClient(requester, schema, home, CallbackServiceName),
	}
}

// ProxyFor is CreateCallbackProxy for a reference received as an argument.
func ProxyFor(requester Requester, schema *protocol.Schema, ref CallbackReference) (*CallbackProxy, error) {
	home, err := identity.ParseInstanceNodeSessionID(ref.Home)
	if err != nil {
		return nil, err
	}
	return CreateCallbackProxy(requester, schema, ref.ObjectID, home), nil
}

// ObjectID returns the id of the proxied object.
func (p *CallbackProxy) ObjectID() string {
	return p.objectID
}

// Home returns the node of the proxied object.
func (p *CallbackProxy) Home() identity.InstanceNodeSessionID {
	return p.home
}

// Invoke calls a method of the proxied object.
func (p *CallbackProxy) Invoke(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	full := append([]interface{}{p.objectID, method}, args...)
	return p.client.Invoke(ctx, "invoke", full...)
}

// Release drops the reference of this proxy.
func (p *CallbackProxy) Release(ctx context.Context) (ReleaseOutcome, error) {
	v, err := p.client.Invoke(ctx, "release", p.objectID)
	if err != nil {
		return AlreadyGone, err
	}
	n, ok := v.(int)
	if !ok {
		return AlreadyGone, fmt.Errorf("%w: release outcome %T", protocol.ErrMalformed, v)
	}
	return ReleaseOutcome(n), nil
}
