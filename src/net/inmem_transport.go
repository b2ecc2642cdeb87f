package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/rcenet/rce/src/identity"
	"github.com/sirupsen/logrus"
)

// NewInmemAddr returns a new in-memory addr with a randomly generated id.
func NewInmemAddr() string {
	return "inmem-" + NewChannelID()[:12]
}

// InmemTransport implements the Transport interface, to allow nodes to be
// tested in-memory without going over a network. Frames are still encoded
// and decoded.
type InmemTransport struct {
	*Endpoint

	sync.RWMutex
	localAddr string
	peers     map[string]*InmemTransport
}

// NewInmemTransport is used to initialize a new transport and generates a
// random local address if none is specified.
func NewInmemTransport(addr string, local identity.InstanceNodeSessionID, logger *logrus.Entry) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		Endpoint:  NewEndpoint(local, logger),
		localAddr: addr,
		peers:     make(map[string]*InmemTransport),
	}
	return addr, trans
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// AddPeer makes another transport reachable under the given address. This
// allows for local routing.
func (i *InmemTransport) AddPeer(addr string, t *InmemTransport) {
	i.Lock()
	defer i.Unlock()
	i.peers[addr] = t
}

// Disconnect is used to remove the ability to reach a given peer. Open
// channels are not affected.
func (i *InmemTransport) Disconnect(addr string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, addr)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Connect implements the Transport interface.
func (i *InmemTransport) Connect(target string, timeout time.Duration) (MessageChannel, error) {
	if i.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	i.RLock()
	peer, ok := i.peers[target]
	i.RUnlock()

	if !ok {
		return nil, fmt.Errorf("failed to connect to peer: %v", target)
	}

	id := NewChannelID()
	hs, err := NewHandshake(id, i.local)
	if err != nil {
		return nil, err
	}

	// The responder writes to us through its link, so ours is created
	// first, pointing at the peer.
	out := &inmemLink{to: peer.Endpoint, channel: id}
	back := &inmemLink{to: i.Endpoint, channel: id}

	ack, ch, err := peer.AnswerHandshake(hs, back)
	if err != nil {
		return nil, err
	}
	mine, err := i.CompleteHandshake(id, ack, out)
	if err != nil {
		ch.Close()
		return nil, err
	}
	peer.Open(ch)

	return mine, nil
}

// Listen is an empty function as there is no need to defer initialisation
// of the in-memory transport.
func (i *InmemTransport) Listen() {
}

// Close is used to permanently disable the transport.
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	i.Shutdown()
	return nil
}

// inmemLink delivers frames straight to the Endpoint on the other side.
type inmemLink struct {
	to      *Endpoint
	channel string
}

func (l *inmemLink) WriteFrame(f *Frame) error {
	if l.to.IsShutdown() {
		return ErrTransportShutdown
	}

	// Round-trip through the codec, like a real transport would
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	decoded, err := DecodeFrame(data)
	if err != nil {
		return err
	}

	ch := l.to.Channel(l.channel)
	if ch == nil {
		return ErrChannelClosed
	}
	l.to.HandleFrame(ch, decoded)
	return nil
}

func (l *inmemLink) Close() error {
	return nil
}
