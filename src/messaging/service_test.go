package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/net"
	"github.com/rcenet/rce/src/properties"
	"github.com/rcenet/rce/src/protocol"
	"github.com/rcenet/rce/src/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFunc func(dest identity.InstanceNodeSessionID) (routing.Route, error)

func (f routerFunc) GetRouteTo(dest identity.InstanceNodeSessionID) (routing.Route, error) {
	return f(dest)
}

func noRoute(local identity.InstanceNodeSessionID) Router {
	return routerFunc(func(dest identity.InstanceNodeSessionID) (routing.Route, error) {
		return routing.Route{}, &routing.NoRouteFoundError{Source: local, Destination: dest}
	})
}

func newStandalone(t *testing.T) *Service {
	logger := common.NewTestEntry(t, common.TestLogLevel)
	id := identity.NewInstanceNodeID().NewSession()
	return NewService(id, net.NewRegistry(logger), noRoute(id), Config{MaxHops: 3, Timeout: time.Second}, nil, logger)
}

func await(t *testing.T, f *ResponseFuture) *protocol.NetworkResponse {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := f.Await(ctx)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return resp
}

func TestLocalDispatch(t *testing.T) {
	s := newStandalone(t)

	err := s.RegisterRequestHandler(protocol.MessageTypeRPC, func(req *protocol.NetworkRequest) ([]byte, error) {
		return append([]byte("echo:"), req.Content...), nil
	})
	require.NoError(t, err)

	f := s.PerformRoutedRequest([]byte("hi"), protocol.MessageTypeRPC, s.LocalNode())
	resp := await(t, f)

	require.True(t, resp.IsSuccess(), "response: %+v", resp.Failure)
	assert.Equal(t, "echo:hi", string(resp.Content))
	assert.Equal(t, f.RequestID(), resp.RequestID)
	assert.Len(t, f.RequestID(), protocol.RequestIDLength)
	assert.Same(t, resp, f.Response())
}

func TestHandlerFailures(t *testing.T) {
	s := newStandalone(t)

	cases := []struct {
		name    string
		handler RequestHandler
		code    protocol.ResultCode
		message string
	}{
		{
			name: "error",
			handler: func(*protocol.NetworkRequest) ([]byte, error) {
				return nil, errors.New("boom")
			},
			code:    protocol.ExceptionAtDestination,
			message: "boom",
		},
		{
			name: "panic",
			handler: func(*protocol.NetworkRequest) ([]byte, error) {
				panic("kaboom")
			},
			code:    protocol.ExceptionAtDestination,
			message: "kaboom",
		},
		{
			name: "nil result",
			handler: func(*protocol.NetworkRequest) ([]byte, error) {
				return nil, nil
			},
			code:    protocol.ExceptionAtDestination,
			message: ErrNoResult.Error(),
		},
		{
			name: "malformed",
			handler: func(*protocol.NetworkRequest) ([]byte, error) {
				return nil, protocol.ErrMalformed
			},
			code:    protocol.SerializationFailure,
			message: protocol.ErrMalformed.Error(),
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.NoError(t, s.RegisterRequestHandler(protocol.MessageTypeRPC, c.handler))

			resp := await(t, s.PerformRoutedRequest(nil, protocol.MessageTypeRPC, s.LocalNode()))
			require.False(t, resp.IsSuccess())
			assert.Equal(t, c.code, resp.Code)
			require.NotNil(t, resp.Failure)
			assert.Contains(t, resp.Failure.Message, c.message)
		})
	}
}

func TestNoHandler(t *testing.T) {
	s := newStandalone(t)

	resp := await(t, s.PerformRoutedRequest(nil, protocol.MessageTypeHealthCheck, s.LocalNode()))
	assert.Equal(t, protocol.ProtocolError, resp.Code)
}

func TestUnsupportedMessageType(t *testing.T) {
	s := newStandalone(t)

	err := s.RegisterRequestHandler("bogus", func(*protocol.NetworkRequest) ([]byte, error) { return nil, nil })
	assert.True(t, protocol.IsUnsupportedMessageType(err))

	resp := await(t, s.PerformRoutedRequest(nil, "bogus", s.LocalNode()))
	assert.Equal(t, protocol.ProtocolError, resp.Code)
}

func TestNoRoute(t *testing.T) {
	s := newStandalone(t)
	other := identity.NewInstanceNodeID().NewSession()

	resp := await(t, s.PerformRoutedRequest(nil, protocol.MessageTypeRPC, other))
	assert.Equal(t, protocol.NoRouteToDestination, resp.Code)
	assert.True(t, resp.Code.IsUnreachable())

	var rerr *protocol.ResponseError
	require.True(t, errors.As(resp.Err(), &rerr))
	assert.Contains(t, rerr.Message, other.RawID())
}

func TestHopLimit(t *testing.T) {
	s := newStandalone(t)
	other := identity.NewInstanceNodeID().NewSession()

	req, err := protocol.CreateRequest(nil, protocol.MessageTypeRPC, other, identity.NewInstanceNodeID().NewSession())
	require.NoError(t, err)
	req.Metadata.HopCount = 3

	resp := s.ForwardAndAwait(req)
	assert.Equal(t, protocol.HopLimitExceeded, resp.Code)
	assert.Equal(t, req.RequestID, resp.RequestID)

	// below the limit the request reaches the routing step
	req.Metadata.HopCount = 1
	resp = s.ForwardAndAwait(req)
	assert.Equal(t, protocol.NoRouteToDestination, resp.Code)
}

type testNode struct {
	id        identity.InstanceNodeSessionID
	addr      string
	transport *net.InmemTransport
	registry  *net.Registry
	routing   *routing.Service
	messaging *Service
}

func newTestNode(t *testing.T) *testNode {
	logger := common.NewTestEntry(t, common.TestLogLevel)
	id := identity.NewInstanceNodeID().NewSession()
	addr, trans := net.NewInmemTransport("", id, logger)
	reg := net.NewRegistry(logger)
	props := properties.NewService(id, reg, time.Second, nil, logger)
	rt := routing.NewService(id, props, reg, routing.Config{
		QuietPeriod:     100 * time.Millisecond,
		PublishInterval: 10 * time.Millisecond,
	}, nil, logger)
	msg := NewService(id, reg, rt, Config{MaxHops: 8, Timeout: 2 * time.Second}, nil, logger)

	if err := msg.RegisterRequestHandler(protocol.MessageTypePropertyGossip, props.HandleGossip); err != nil {
		t.Fatalf("err: %v", err)
	}

	reg.AddListener(func(ev net.RegistryEvent) {
		if ev.Added {
			props.OnChannelAdded(ev.Channel)
		}
	})

	go func() {
		for ev := range trans.Events() {
			if ev.Type == net.ChannelOpened {
				reg.Add(ev.Channel)
			} else {
				reg.Remove(ev.Channel.ChannelID())
			}
		}
	}()

	go func() {
		for rpc := range trans.Consumer() {
			msg.HandleIncoming(rpc)
		}
	}()

	rt.Start()
	t.Cleanup(func() {
		rt.Stop()
		trans.Close()
	})

	return &testNode{
		id:        id,
		addr:      addr,
		transport: trans,
		registry:  reg,
		routing:   rt,
		messaging: msg,
	}
}

func connect(t *testing.T, a, b *testNode) {
	a.transport.AddPeer(b.addr, b.transport)
	if _, err := a.transport.Connect(b.addr, time.Second); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestRoutedRequestAcrossChain(t *testing.T) {
	a, b, c := newTestNode(t), newTestNode(t), newTestNode(t)
	connect(t, a, b)
	connect(t, b, c)

	traces := make(chan []string, 1)
	err := c.messaging.RegisterRequestHandler(protocol.MessageTypeRPC, func(req *protocol.NetworkRequest) ([]byte, error) {
		traces <- req.Metadata.Trace
		return []byte(strings.ToUpper(string(req.Content))), nil
	})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := a.routing.GetRouteTo(c.id); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no route from a to c")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp := await(t, a.messaging.PerformRoutedRequest([]byte("hello"), protocol.MessageTypeRPC, c.id))
	require.True(t, resp.IsSuccess(), "failure: %+v", resp.Failure)
	assert.Equal(t, "HELLO", string(resp.Content))

	trace := <-traces
	assert.Equal(t, []string{b.id.RawID()}, trace, "the request went through b")

	// errors of the destination come back across the chain
	err = c.messaging.RegisterRequestHandler(protocol.MessageTypeRPC, func(*protocol.NetworkRequest) ([]byte, error) {
		return nil, errors.New("refused")
	})
	require.NoError(t, err)

	resp = await(t, a.messaging.PerformRoutedRequest(nil, protocol.MessageTypeRPC, c.id))
	assert.Equal(t, protocol.ExceptionAtDestination, resp.Code)
	assert.Equal(t, "refused", resp.Failure.Message)
}
