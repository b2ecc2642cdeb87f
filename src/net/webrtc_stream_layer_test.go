package net

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	webrtc "github.com/pion/webrtc/v2"
	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/net/signal"
	"github.com/rcenet/rce/src/protocol"
)

// testSignals relays offers between signals of the same process.
type testSignals struct {
	sync.Mutex
	byID map[string]*testSignal
}

type testSignal struct {
	id       string
	hub      *testSignals
	consumer chan signal.OfferPromise
}

func (h *testSignals) newSignal(id string) *testSignal {
	h.Lock()
	defer h.Unlock()
	s := &testSignal{id: id, hub: h, consumer: make(chan signal.OfferPromise)}
	h.byID[id] = s
	return s
}

func (s *testSignal) ID() string                           { return s.id }
func (s *testSignal) Listen() error                        { return nil }
func (s *testSignal) Consumer() <-chan signal.OfferPromise { return s.consumer }
func (s *testSignal) Close() error                         { return nil }

func (s *testSignal) Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	s.hub.Lock()
	peer, ok := s.hub.byID[target]
	s.hub.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown target %s", target)
	}

	promise, respCh := signal.NewOfferPromise(s.id, offer, 5*time.Second)
	select {
	case peer.consumer <- promise:
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("offer not consumed")
	}

	resp := <-respCh
	return resp.Answer, resp.Error
}

func TestWebRTCTransport(t *testing.T) {
	if testing.Short() {
		t.Skip("needs ICE host candidates")
	}

	hub := &testSignals{byID: make(map[string]*testSignal)}

	n1 := identity.NewInstanceNodeID().NewSession()
	n2 := identity.NewInstanceNodeID().NewSession()

	t1, err := NewWebRTCTransport(hub.newSignal("alice"), nil, n1, 5*time.Second, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatal(err)
	}
	defer t1.Close()
	go t1.Listen()

	t2, err := NewWebRTCTransport(hub.newSignal("bob"), nil, n2, 5*time.Second, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatal(err)
	}
	defer t2.Close()
	go t2.Listen()

	go echo(t1)

	if t1.AdvertiseAddr() != "alice" {
		t.Fatalf("advertise address should be the signal id, not %s", t1.AdvertiseAddr())
	}

	ch, err := t2.Connect("alice", 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ch.RemoteNodeID() != n1 {
		t.Fatalf("remote should be %s, not %s", n1.RawID(), ch.RemoteNodeID().RawID())
	}

	req, _ := protocol.CreateRequest([]byte("hi"), protocol.MessageTypeRPC, n2, n1)
	resp := ch.SendBlocking(req, 5*time.Second)
	if !resp.IsSuccess() || !bytes.Equal(resp.Content, []byte("echo:hi")) {
		t.Fatalf("unexpected response %+v", resp)
	}
}
