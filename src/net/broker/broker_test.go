package broker

import (
	"bytes"
	"testing"
	"time"

	"github.com/pion/webrtc/v2"
	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/net"
	"github.com/rcenet/rce/src/protocol"
)

const testRealm = "rce.test"

func newTestServer(t *testing.T) *Server {
	server, err := NewServer("127.0.0.1:0", testRealm, "", "", common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatal(err)
	}
	return server
}

func newTestTransport(t *testing.T, server *Server) *Transport {
	logger := common.NewTestEntry(t, common.TestLogLevel)
	cli, err := DialLocal(server.Router(), server.Realm(), time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	trans := NewTransportFromClient(cli, identity.NewInstanceNodeID().NewSession(), time.Second, logger)
	trans.Listen()
	t.Cleanup(func() {
		trans.Close()
		cli.Close()
	})
	return trans
}

func TestBrokerTransport(t *testing.T) {
	server := newTestServer(t)
	defer server.Shutdown()

	t1 := newTestTransport(t, server)
	t2 := newTestTransport(t, server)

	go func() {
		for rpc := range t1.Consumer() {
			content := append([]byte("echo:"), rpc.Request.Content...)
			rpc.Respond(protocol.CreateResponseForRequest(rpc.Request, content), nil)
		}
	}()

	ch, err := t2.Connect(t1.AdvertiseAddr(), time.Second)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if ch.RemoteNodeID() != t1.LocalNode() {
		t.Fatalf("remote should be %s, not %s", t1.LocalNode().RawID(), ch.RemoteNodeID().RawID())
	}

	req, _ := protocol.CreateRequest([]byte("ping"), protocol.MessageTypeRPC, t2.LocalNode(), t1.LocalNode())
	resp := ch.SendBlocking(req, time.Second)
	if !resp.IsSuccess() {
		t.Fatalf("request failed: %v", resp.Err())
	}
	if !bytes.Equal(resp.Content, []byte("echo:ping")) {
		t.Fatalf("unexpected content %q", resp.Content)
	}

	select {
	case ev := <-t1.Events():
		if ev.Type != net.ChannelOpened || ev.Channel.RemoteNodeID() != t2.LocalNode() {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no channel event on the listener side")
	}

	ch.Close()

	select {
	case ev := <-t1.Events():
		if ev.Type != net.ChannelDown {
			t.Fatalf("expected down event, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("closure should reach the remote end")
	}
}

func TestBrokerTransportUnknownTarget(t *testing.T) {
	server := newTestServer(t)
	defer server.Shutdown()

	t1 := newTestTransport(t, server)

	other := identity.NewInstanceNodeID().NewSession()
	if _, err := t1.Connect(NodeAddress(other), time.Second); err == nil {
		t.Fatalf("connecting to an unregistered node should fail")
	}
}

func TestSignal(t *testing.T) {
	server := newTestServer(t)
	defer server.Shutdown()

	logger := common.NewTestEntry(t, common.TestLogLevel)

	calleeCli, err := DialLocal(server.Router(), testRealm, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer calleeCli.Close()

	callee := NewSignal(calleeCli, "callee", time.Second, logger)
	if err := callee.Listen(); err != nil {
		t.Fatal(err)
	}
	defer callee.Close()

	callerCli, err := DialLocal(server.Router(), testRealm, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer callerCli.Close()

	caller := NewSignal(callerCli, "caller", time.Second, logger)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	go func() {
		promise := <-callee.Consumer()
		if promise.From != "caller" {
			t.Errorf("offer should come from caller, not %s", promise.From)
		}
		promise.Respond(&answer, nil)
	}()

	got, err := caller.Offer("callee", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != webrtc.SDPTypeAnswer || got.SDP != "v=0" {
		t.Fatalf("unexpected answer %+v", got)
	}

	// An offer the callee fails to process comes back as ErrProcessingOffer
	go func() {
		promise := <-callee.Consumer()
		promise.Respond(nil, errTest)
	}()
	if _, err := caller.Offer("callee", webrtc.SessionDescription{}); !IsProcessingOfferError(err) {
		t.Fatalf("expected an ErrProcessingOffer, got %v", err)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("cannot process offer")
