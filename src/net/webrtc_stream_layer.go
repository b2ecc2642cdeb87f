package net

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/datachannel"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/net/signal"
	"github.com/sirupsen/logrus"
)

var errStreamClosed = errors.New("stream layer closed")

// WebRTCStreamLayer implements the StreamLayer interface for WebRTC. It is
// the tunneled transport: peers that cannot reach each other directly
// exchange connection information through a Signal, and then talk over a
// DataChannel.
type WebRTCStreamLayer struct {
	sync.Mutex
	peerConnections []*webrtc.PeerConnection
	dataChannels    []datachannel.ReadWriteCloser

	signal                 signal.Signal
	iceServers             []webrtc.ICEServer
	incomingConnAggregator chan net.Conn

	closed   bool
	closedCh chan struct{}

	logger *logrus.Entry
}

// NewWebRTCStreamLayer instantiates a new WebRTCStreamLayer. Call listen to
// start answering offers.
func NewWebRTCStreamLayer(
	signal signal.Signal,
	iceServers []webrtc.ICEServer,
	logger *logrus.Entry,
) *WebRTCStreamLayer {
	return &WebRTCStreamLayer{
		signal:                 signal,
		iceServers:             iceServers,
		incomingConnAggregator: make(chan net.Conn),
		closedCh:               make(chan struct{}),
		logger:                 logger,
	}
}

// NewWebRTCTransport returns a NetworkTransport that is built on top of a
// WebRTC StreamLayer. The signal is a mechanism for peers to exchange
// connection information prior to establishing a direct p2p link.
func NewWebRTCTransport(
	signal signal.Signal,
	iceServers []webrtc.ICEServer,
	local identity.InstanceNodeSessionID,
	timeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {
	if err := signal.Listen(); err != nil {
		return nil, err
	}

	stream := NewWebRTCStreamLayer(signal, iceServers, logger)
	go stream.listen()

	return NewNetworkTransport(stream, local, timeout, logger), nil
}

// listen receives SDP offers from the Signal, creates the corresponding
// PeerConnections and responds. The PeerConnection's DataChannel is piped
// into the connection aggregator.
func (w *WebRTCStreamLayer) listen() {
	consumer := w.signal.Consumer()

	for {
		select {
		case <-w.closedCh:
			return
		case offerPromise, ok := <-consumer:
			if !ok {
				return
			}

			logger := w.logger.WithField("from", offerPromise.From)
			logger.Debug("WebRTCStreamLayer Processing Offer")

			if offerPromise.Expired() {
				logger.Debug("Offer expired before it was answered")
				continue
			}

			pc, answer, err := w.answer(offerPromise.From, offerPromise.Offer)
			if err != nil {
				logger.WithError(err).Warn("Failed to answer offer")
			}
			if !offerPromise.Respond(answer, err) && pc != nil {
				logger.Debug("Answer not delivered, closing PeerConnection")
				pc.Close()
			}
		}
	}
}

func (w *WebRTCStreamLayer) answer(from string, offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.SessionDescription, error) {
	peerConnection, err := w.newPeerConnection(w.incomingConnAggregator, false, from)
	if err != nil {
		return nil, nil, err
	}

	// Set the remote SessionDescription
	if err := peerConnection.SetRemoteDescription(offer); err != nil {
		peerConnection.Close()
		return nil, nil, err
	}

	// Create answer
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		peerConnection.Close()
		return nil, nil, err
	}

	// Sets the LocalDescription, and starts our UDP listeners
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		peerConnection.Close()
		return nil, nil, err
	}

	return peerConnection, &answer, nil
}

// newPeerConnection creates a PeerConnection and pipes corresponding
// DataChannel connections into the provided channel. Set createDataChannel to
// true when making the offer, and to false when answering it. remote is the
// signal identifier of the other end.
func (w *WebRTCStreamLayer) newPeerConnection(connCh chan net.Conn, createDataChannel bool, remote string) (*webrtc.PeerConnection, error) {
	// Create a SettingEngine and enable Detach
	s := webrtc.SettingEngine{}
	s.DetachDataChannels()

	// Create an API object with the engine
	api := webrtc.NewAPI(webrtc.WithSettingEngine(s))

	config := webrtc.Configuration{
		ICEServers: w.iceServers,
	}

	peerConnection, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	// This will notify you when the peer has connected/disconnected
	peerConnection.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		w.logger.WithField("state", connectionState.String()).Debug("ICE Connection State has changed")
	})

	if createDataChannel {
		dataChannel, err := peerConnection.CreateDataChannel("rce", nil)
		if err != nil {
			peerConnection.Close()
			return nil, err
		}

		w.pipeDataChannel(dataChannel, connCh, remote)
	} else {
		peerConnection.OnDataChannel(func(d *webrtc.DataChannel) {
			w.pipeDataChannel(d, connCh, remote)
		})
	}

	w.Lock()
	w.peerConnections = append(w.peerConnections, peerConnection)
	w.Unlock()

	return peerConnection, nil
}

func (w *WebRTCStreamLayer) pipeDataChannel(dataChannel *webrtc.DataChannel, connCh chan net.Conn, remote string) {
	dataChannel.OnOpen(func() {
		raw, err := dataChannel.Detach()
		if err != nil {
			w.logger.WithError(err).Error("Error detaching DataChannel")
			return
		}

		w.Lock()
		w.dataChannels = append(w.dataChannels, raw)
		w.Unlock()

		select {
		case connCh <- NewWebRTCConn(raw, webrtcAddr(w.signal.ID()), webrtcAddr(remote)):
		case <-w.closedCh:
			raw.Close()
		}
	})
}

// Dial implements the StreamLayer interface. It creates a PeerConnection,
// exchanges SDP through the Signal, and returns a net.Conn wrapping the
// detached DataChannel once it opens.
func (w *WebRTCStreamLayer) Dial(target string, timeout time.Duration) (net.Conn, error) {
	// connCh receives the net.Conn asynchronously when the DataChannel's
	// OnOpen callback is fired. Buffered so a late open does not block.
	connCh := make(chan net.Conn, 1)

	pc, err := w.newPeerConnection(connCh, true, target)
	if err != nil {
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}

	// Sets the LocalDescription, and starts our UDP listeners
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}

	// synchronous offer/answer RPC request through signal to exchange SDP
	// information.
	answer, err := w.signal.Offer(target, offer)
	if err != nil {
		return nil, err
	}
	if answer == nil {
		return nil, fmt.Errorf("no SDP answer from %s", target)
	}

	if err := pc.SetRemoteDescription(*answer); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil, fmt.Errorf("dial %s: timeout", target)
	case <-w.closedCh:
		return nil, errStreamClosed
	case conn := <-connCh:
		return conn, nil
	}
}

// Accept consumes the incoming connection aggregator fed by the DataChannels
// of all the answered PeerConnections.
func (w *WebRTCStreamLayer) Accept() (c net.Conn, err error) {
	select {
	case conn := <-w.incomingConnAggregator:
		return conn, nil
	case <-w.closedCh:
		return nil, errStreamClosed
	}
}

// Close implements the net.Listener interface. It closes the Signal and all the
// PeerConnections
func (w *WebRTCStreamLayer) Close() (err error) {
	w.Lock()
	if w.closed {
		w.Unlock()
		return nil
	}
	w.closed = true
	close(w.closedCh)
	dataChannels := w.dataChannels
	peerConnections := w.peerConnections
	w.Unlock()

	err = w.signal.Close()

	for _, dc := range dataChannels {
		dc.Close()
	}

	for _, pc := range peerConnections {
		pc.Close()
	}

	return err
}

// Addr implements the net.Listener interface
func (w *WebRTCStreamLayer) Addr() net.Addr {
	return webrtcAddr(w.signal.ID())
}

// AdvertiseAddr implements the StreamLayer interface
func (w *WebRTCStreamLayer) AdvertiseAddr() string {
	return w.signal.ID()
}

type webrtcAddr string

func (a webrtcAddr) Network() string { return "webrtc" }
func (a webrtcAddr) String() string  { return string(a) }
