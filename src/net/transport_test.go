package net

import (
	"bytes"
	"testing"
	"time"

	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/protocol"
)

const (
	INMEM = iota
	TCP
	numTestTransports // NOTE: must be last
)

var transportNames = []string{"inmem", "tcp"}

// newTestPair returns two transports, the second of which can connect to the
// first through its advertise address.
func newTestPair(ttype int, t *testing.T) (Transport, Transport) {
	n1 := identity.NewInstanceNodeID().NewSession()
	n2 := identity.NewInstanceNodeID().NewSession()

	switch ttype {
	case INMEM:
		_, t1 := NewInmemTransport("", n1, common.NewTestEntry(t, common.TestLogLevel))
		_, t2 := NewInmemTransport("", n2, common.NewTestEntry(t, common.TestLogLevel))
		t2.AddPeer(t1.AdvertiseAddr(), t1)
		return t1, t2
	case TCP:
		t1, err := NewTCPTransport("127.0.0.1:0", "", n1, time.Second, common.NewTestEntry(t, common.TestLogLevel))
		if err != nil {
			t.Fatal(err)
		}
		go t1.Listen()
		t2, err := NewTCPTransport("127.0.0.1:0", "", n2, time.Second, common.NewTestEntry(t, common.TestLogLevel))
		if err != nil {
			t.Fatal(err)
		}
		go t2.Listen()
		return t1, t2
	default:
		panic("Unknown transport type")
	}
}

// echo answers every request with "echo:" followed by its content, until
// the transport shuts down.
func echo(trans Transport) {
	for rpc := range trans.Consumer() {
		content := append([]byte("echo:"), rpc.Request.Content...)
		rpc.Respond(protocol.CreateResponseForRequest(rpc.Request, content), nil)
	}
}

func nextEvent(t *testing.T, trans Transport) ChannelEvent {
	select {
	case ev := <-trans.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for channel event")
	}
	return ChannelEvent{}
}

func TestTransport_StartStop(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		t1, t2 := newTestPair(ttype, t)
		if err := t1.Close(); err != nil {
			t.Fatalf("%s: err: %v", transportNames[ttype], err)
		}
		if err := t2.Close(); err != nil {
			t.Fatalf("%s: err: %v", transportNames[ttype], err)
		}
	}
}

func TestTransport_RequestResponse(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		t.Run(transportNames[ttype], func(t *testing.T) {
			t1, t2 := newTestPair(ttype, t)
			defer t1.Close()
			defer t2.Close()

			go echo(t1)

			ch, err := t2.Connect(t1.AdvertiseAddr(), time.Second)
			if err != nil {
				t.Fatalf("err: %v", err)
			}

			n1 := t1.(interface {
				LocalNode() identity.InstanceNodeSessionID
			}).LocalNode()
			n2 := t2.(interface {
				LocalNode() identity.InstanceNodeSessionID
			}).LocalNode()

			if ch.RemoteNodeID() != n1 {
				t.Fatalf("remote node should be %s, not %s", n1.RawID(), ch.RemoteNodeID().RawID())
			}
			if ch.State() != Established {
				t.Fatalf("channel should be established, not %s", ch.State())
			}

			req, _ := protocol.CreateRequest([]byte("ping"), protocol.MessageTypeRPC, n2, n1)
			resp := ch.SendBlocking(req, time.Second)
			if !resp.IsSuccess() {
				t.Fatalf("request failed: %v", resp.Err())
			}
			if resp.RequestID != req.RequestID {
				t.Fatalf("response id should be %s, not %s", req.RequestID, resp.RequestID)
			}
			if !bytes.Equal(resp.Content, []byte("echo:ping")) {
				t.Fatalf("unexpected content %q", resp.Content)
			}

			// both ends report the channel, with the same id
			ev1 := nextEvent(t, t1)
			ev2 := nextEvent(t, t2)
			if ev1.Type != ChannelOpened || ev2.Type != ChannelOpened {
				t.Fatalf("expected opened events, got %s and %s", ev1.Type, ev2.Type)
			}
			if ev1.Channel.ChannelID() != ch.ChannelID() || ev2.Channel.ChannelID() != ch.ChannelID() {
				t.Fatalf("both ends should share the channel id")
			}
			if ev1.Channel.RemoteNodeID() != n2 {
				t.Fatalf("listener side should see %s", n2.RawID())
			}

			// the listener side can send too
			back, _ := protocol.CreateRequest([]byte("pong"), protocol.MessageTypeRPC, n1, n2)
			go echo(t2)
			resp = ev1.Channel.SendBlocking(back, time.Second)
			if !resp.IsSuccess() || !bytes.Equal(resp.Content, []byte("echo:pong")) {
				t.Fatalf("reverse request failed: %+v", resp)
			}

			// closing one end brings down the other
			ch.Close()
			if ev := nextEvent(t, t1); ev.Type != ChannelDown {
				t.Fatalf("expected down event on the remote end, got %s", ev.Type)
			}
			if ev := nextEvent(t, t2); ev.Type != ChannelDown {
				t.Fatalf("expected down event on the local end, got %s", ev.Type)
			}
		})
	}
}

func TestTransport_ErrorResponse(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		t.Run(transportNames[ttype], func(t *testing.T) {
			t1, t2 := newTestPair(ttype, t)
			defer t1.Close()
			defer t2.Close()

			go func() {
				for rpc := range t1.Consumer() {
					rpc.Respond(nil, &identity.InvalidIdentifierError{Raw: "x", Reason: "test"})
				}
			}()

			ch, err := t2.Connect(t1.AdvertiseAddr(), time.Second)
			if err != nil {
				t.Fatalf("err: %v", err)
			}

			req, _ := protocol.CreateRequest(nil, protocol.MessageTypeRPC, identity.NewInstanceNodeID().NewSession(), ch.RemoteNodeID())
			resp := ch.SendBlocking(req, time.Second)
			if resp.Code != protocol.ExceptionAtDestination {
				t.Fatalf("expected ExceptionAtDestination, got %s", resp.Code)
			}
			if resp.Failure == nil || resp.Failure.Type != "*identity.InvalidIdentifierError" {
				t.Fatalf("failure type should be kept: %+v", resp.Failure)
			}
		})
	}
}

func TestTransport_UnknownMessageType(t *testing.T) {
	t1, t2 := newTestPair(INMEM, t)
	defer t1.Close()
	defer t2.Close()

	go echo(t1)

	ch, err := t2.Connect(t1.AdvertiseAddr(), time.Second)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	req, _ := protocol.CreateRequest(nil, protocol.MessageTypeRPC, identity.NewInstanceNodeID().NewSession(), ch.RemoteNodeID())
	req.MessageType = "from-the-future"

	resp := ch.SendBlocking(req, time.Second)
	if resp.Code != protocol.ProtocolError {
		t.Fatalf("expected ProtocolError, got %s", resp.Code)
	}
}

func TestSendBlockingTimeout(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		t.Run(transportNames[ttype], func(t *testing.T) {
			t1, t2 := newTestPair(ttype, t)
			defer t1.Close()
			defer t2.Close()

			// nobody consumes t1's requests

			ch, err := t2.Connect(t1.AdvertiseAddr(), time.Second)
			if err != nil {
				t.Fatalf("err: %v", err)
			}

			req, _ := protocol.CreateRequest(nil, protocol.MessageTypeHeartbeat, identity.NewInstanceNodeID().NewSession(), ch.RemoteNodeID())

			start := time.Now()
			resp := ch.SendBlocking(req, 50*time.Millisecond)
			elapsed := time.Since(start)

			if resp.Code != protocol.Timeout {
				t.Fatalf("expected Timeout, got %s", resp.Code)
			}
			if resp.RequestID != req.RequestID {
				t.Fatalf("timeout response should carry the request id")
			}
			if elapsed < 50*time.Millisecond || elapsed > 500*time.Millisecond {
				t.Fatalf("SendBlocking returned after %v", elapsed)
			}
		})
	}
}

func TestCloseFailsPendingRequests(t *testing.T) {
	t1, t2 := newTestPair(INMEM, t)
	defer t1.Close()
	defer t2.Close()

	ch, err := t2.Connect(t1.AdvertiseAddr(), time.Second)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	const n = 5
	results := make(chan *protocol.NetworkResponse, n)
	for i := 0; i < n; i++ {
		req, _ := protocol.CreateRequest(nil, protocol.MessageTypeRPC, identity.NewInstanceNodeID().NewSession(), ch.RemoteNodeID())
		ch.SendAsync(req, func(resp *protocol.NetworkResponse) {
			results <- resp
		}, time.Minute)
	}

	// wait for the writes to reach the remote end
	deadline := time.Now().Add(time.Second)
	for len(t1.Consumer()) < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ch.Close()

	// completed synchronously by Close
	if len(results) != n {
		t.Fatalf("all %d pending requests should be completed by Close, got %d", n, len(results))
	}
	for i := 0; i < n; i++ {
		if resp := <-results; resp.Code != protocol.ChannelClosed {
			t.Fatalf("expected ChannelClosed, got %s", resp.Code)
		}
	}

	// later sends fail fast
	req, _ := protocol.CreateRequest(nil, protocol.MessageTypeRPC, identity.NewInstanceNodeID().NewSession(), ch.RemoteNodeID())
	if resp := ch.SendBlocking(req, time.Minute); resp.Code != protocol.ChannelClosed {
		t.Fatalf("expected ChannelClosed after close, got %s", resp.Code)
	}
}

func TestConnectToSelfRefused(t *testing.T) {
	n1 := identity.NewInstanceNodeID().NewSession()
	_, t1 := NewInmemTransport("", n1, common.NewTestEntry(t, common.TestLogLevel))
	defer t1.Close()
	t1.AddPeer(t1.AdvertiseAddr(), t1)

	if _, err := t1.Connect(t1.AdvertiseAddr(), time.Second); err == nil {
		t.Fatalf("connecting to self should fail")
	}
}

func TestConnectUnknownPeer(t *testing.T) {
	_, t1 := NewInmemTransport("", identity.NewInstanceNodeID().NewSession(), common.NewTestEntry(t, common.TestLogLevel))
	defer t1.Close()

	if _, err := t1.Connect("nowhere", time.Second); err == nil {
		t.Fatalf("connecting to an unknown peer should fail")
	}
}
