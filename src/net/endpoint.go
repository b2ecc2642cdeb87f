package net

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/protocol"
	"github.com/sirupsen/logrus"
)

const (
	consumerBufSize = 16
	eventBufSize    = 256
)

var errSelfConnection = errors.New("connection to self")

// Endpoint is the transport-independent part of a Transport. It performs the
// channel handshake, dispatches incoming frames to the channels they belong
// to, and hands incoming requests to the consumer.
type Endpoint struct {
	local identity.InstanceNodeSessionID

	consumeCh chan RPC
	eventCh   chan ChannelEvent

	channels     map[string]*Channel
	channelsLock sync.Mutex

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	logger *logrus.Entry
}

// NewEndpoint creates an Endpoint for the given local node.
func NewEndpoint(local identity.InstanceNodeSessionID, logger *logrus.Entry) *Endpoint {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Endpoint{
		local:      local,
		consumeCh:  make(chan RPC, consumerBufSize),
		eventCh:    make(chan ChannelEvent, eventBufSize),
		channels:   make(map[string]*Channel),
		shutdownCh: make(chan struct{}),
		logger:     logger,
	}
}

// LocalNode returns the session id this endpoint speaks for.
func (e *Endpoint) LocalNode() identity.InstanceNodeSessionID {
	return e.local
}

// Consumer implements the Transport interface.
func (e *Endpoint) Consumer() <-chan RPC {
	return e.consumeCh
}

// Events implements the Transport interface.
func (e *Endpoint) Events() <-chan ChannelEvent {
	return e.eventCh
}

// IsShutdown is used to check if the endpoint is shutdown.
func (e *Endpoint) IsShutdown() bool {
	select {
	case <-e.shutdownCh:
		return true
	default:
		return false
	}
}

// Shutdown closes every channel and stops dispatching.
func (e *Endpoint) Shutdown() {
	e.shutdownLock.Lock()
	if e.shutdown {
		e.shutdownLock.Unlock()
		return
	}
	e.shutdown = true
	close(e.shutdownCh)
	e.shutdownLock.Unlock()

	for _, ch := range e.Channels() {
		ch.Close()
	}
}

// Channel returns the open channel with the given id, or nil.
func (e *Endpoint) Channel(id string) *Channel {
	e.channelsLock.Lock()
	defer e.channelsLock.Unlock()
	return e.channels[id]
}

// Channels returns the open channels, ordered by id.
func (e *Endpoint) Channels() []*Channel {
	e.channelsLock.Lock()
	res := make([]*Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		res = append(res, ch)
	}
	e.channelsLock.Unlock()

	sort.Slice(res, func(i, j int) bool { return res[i].id < res[j].id })
	return res
}

// AnswerHandshake processes the handshake frame of an incoming channel. It
// returns the acknowledgement to send back, and the new channel unless the
// handshake was refused. The channel only becomes Established once Open is
// called, after the acknowledgement was written.
func (e *Endpoint) AnswerHandshake(f *Frame, link Link) (*Frame, *Channel, error) {
	if e.IsShutdown() {
		return newHandshakeAck(f.Channel, e.local, ErrTransportShutdown), nil, ErrTransportShutdown
	}
	if f.Kind != FrameHandshake || f.Channel == "" {
		err := fmt.Errorf("%w: expected handshake, got %s", protocol.ErrMalformed, f.Kind)
		return newHandshakeAck(f.Channel, e.local, err), nil, err
	}
	remote, err := parseHello(f)
	if err == nil && remote == e.local {
		err = errSelfConnection
	}
	if err != nil {
		return newHandshakeAck(f.Channel, e.local, err), nil, err
	}

	ch, err := e.register(f.Channel, remote, link)
	if err != nil {
		return newHandshakeAck(f.Channel, e.local, err), nil, err
	}
	return newHandshakeAck(f.Channel, e.local, nil), ch, nil
}

// CompleteHandshake processes the acknowledgement received by the initiator
// of a channel, and opens the channel.
func (e *Endpoint) CompleteHandshake(channelID string, ack *Frame, link Link) (*Channel, error) {
	if ack.Kind != FrameHandshakeAck || ack.Channel != channelID {
		return nil, fmt.Errorf("%w: expected handshake ack for %s", protocol.ErrMalformed, channelID)
	}
	remote, err := parseHello(ack)
	if err != nil {
		return nil, err
	}
	if remote == e.local {
		return nil, errSelfConnection
	}

	ch, err := e.register(channelID, remote, link)
	if err != nil {
		return nil, err
	}
	e.Open(ch)
	return ch, nil
}

// Open marks a channel as established and reports it.
func (e *Endpoint) Open(ch *Channel) {
	ch.setState(Established)
	ch.logger.Debug("Channel established")
	e.emit(ChannelEvent{Type: ChannelOpened, Channel: ch})
}

func (e *Endpoint) register(id string, remote identity.InstanceNodeSessionID, link Link) (*Channel, error) {
	e.channelsLock.Lock()
	defer e.channelsLock.Unlock()

	if _, ok := e.channels[id]; ok {
		return nil, fmt.Errorf("duplicate channel id %s", id)
	}
	ch := newChannel(id, e.local, remote, link, e, e.logger)
	e.channels[id] = ch
	return ch, nil
}

func (e *Endpoint) forget(ch *Channel, wasOpen bool) {
	e.channelsLock.Lock()
	_, ok := e.channels[ch.id]
	delete(e.channels, ch.id)
	e.channelsLock.Unlock()

	if ok && wasOpen {
		// Emitted asynchronously because Close may be called by the
		// consumer of the events.
		go e.emit(ChannelEvent{Type: ChannelDown, Channel: ch})
	}
}

func (e *Endpoint) emit(ev ChannelEvent) {
	select {
	case e.eventCh <- ev:
	case <-e.shutdownCh:
	}
}

// HandleFrame processes a frame received on an established channel.
func (e *Endpoint) HandleFrame(ch *Channel, f *Frame) {
	switch f.Kind {
	case FrameRequest:
		e.handleRequest(ch, f.Body)
	case FrameResponse:
		resp, err := protocol.DecodeResponse(f.Body)
		if err != nil {
			ch.logger.WithError(err).Warn("Dropping malformed response")
			return
		}
		ch.deliver(resp)
	case FrameClose:
		ch.drop()
	default:
		ch.logger.WithField("kind", f.Kind.String()).Warn("Unexpected frame")
	}
}

func (e *Endpoint) handleRequest(ch *Channel, body []byte) {
	req, err := protocol.DecodeRequest(body)
	if err != nil {
		if req == nil {
			ch.logger.WithError(err).Warn("Dropping malformed request")
			return
		}
		// Well-formed but of an unknown type
		go ch.respond(protocol.CreateFailureResponse(req, protocol.ProtocolError, err))
		return
	}

	go e.serve(ch, req)
}

func (e *Endpoint) serve(ch *Channel, req *protocol.NetworkRequest) {
	respCh := make(chan RPCResponse, 1)
	rpc := RPC{
		Channel:  ch,
		Request:  req,
		RespChan: respCh,
	}

	select {
	case e.consumeCh <- rpc:
	case <-e.shutdownCh:
		return
	}

	select {
	case resp := <-respCh:
		ch.respond(resp.networkResponse(req))
	case <-e.shutdownCh:
	}
}
