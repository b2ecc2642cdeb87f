package net

import (
	"bufio"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/protocol"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const (
	// we need this high buffer size for compatibility with WebRTC
	bufSize = math.MaxUint16
)

/*
NetworkTransport provides a network based transport that can be used to open
channels with nodes on remote machines. It requires an underlying stream layer
to provide a stream abstraction, which can be simple TCP, TLS, WebRTC, etc.

Every channel uses its own connection. The initiator sends a handshake frame
carrying the channel id and its node id, and the listener answers with an
acknowledgement carrying its own node id. After that, both ends read and write
msgpack encoded frames on the connection until one of them sends a close
frame, or the connection breaks.
*/
type NetworkTransport struct {
	*Endpoint

	stream StreamLayer

	// timeout bounds handshakes and individual frame writes
	timeout time.Duration
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. The timeout is used to apply I/O deadlines.
func NewNetworkTransport(
	stream StreamLayer,
	local identity.InstanceNodeSessionID,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {
	return &NetworkTransport{
		Endpoint: NewEndpoint(local, logger),
		stream:   stream,
		timeout:  timeout,
	}
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	if n.IsShutdown() {
		return nil
	}
	n.Shutdown()
	return n.stream.Close()
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// Connect implements the Transport interface.
func (n *NetworkTransport) Connect(target string, timeout time.Duration) (MessageChannel, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	conn, err := n.stream.Dial(target, timeout)
	if err != nil {
		return nil, err
	}
	link := newConnLink(conn, n.timeout)

	id := NewChannelID()
	hs, err := NewHandshake(id, n.local)
	if err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetDeadline(time.Now().Add(timeout))
	if err := link.WriteFrame(hs); err != nil {
		conn.Close()
		return nil, err
	}
	ack, err := link.readFrame()
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	ch, err := n.CompleteHandshake(id, ack, link)
	if err != nil {
		conn.Close()
		return nil, err
	}

	go n.readLoop(ch, link)

	return ch, nil
}

// Listen opens the stream and handles incoming connections.
func (n *NetworkTransport) Listen() {
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		// Handle the connection in dedicated routine
		go n.handleConn(conn)
	}
}

// handleConn performs the handshake of an inbound connection, then reads its
// frames for its lifespan.
func (n *NetworkTransport) handleConn(conn net.Conn) {
	link := newConnLink(conn, n.timeout)

	conn.SetDeadline(time.Now().Add(n.timeout))
	hs, err := link.readFrame()
	if err != nil {
		n.logger.WithField("error", err).Debug("Failed to read handshake")
		conn.Close()
		return
	}

	ack, ch, err := n.AnswerHandshake(hs, link)
	if werr := link.WriteFrame(ack); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		n.logger.WithField("error", err).Warn("Refused incoming channel")
		if ch != nil {
			ch.drop()
		}
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	n.Open(ch)
	n.readLoop(ch, link)
}

func (n *NetworkTransport) readLoop(ch *Channel, link *connLink) {
	for {
		f, err := link.readFrame()
		if err != nil {
			if err != io.EOF && !n.IsShutdown() && ch.State() != Closed {
				ch.logger.WithField("error", err).Debug("Channel connection lost")
			}
			ch.drop()
			return
		}
		n.HandleFrame(ch, f)
		if f.Kind == FrameClose {
			return
		}
	}
}

// connLink writes and reads the frames of one channel on a net.Conn.
type connLink struct {
	conn    net.Conn
	timeout time.Duration

	r   *bufio.Reader
	w   *bufio.Writer
	dec *codec.Decoder
	enc *codec.Encoder

	writeLock sync.Mutex
}

func newConnLink(conn net.Conn, timeout time.Duration) *connLink {
	l := &connLink{
		conn:    conn,
		timeout: timeout,
		r:       bufio.NewReaderSize(conn, bufSize),
		w:       bufio.NewWriterSize(conn, bufSize),
	}
	// Setup encoder/decoders
	l.dec = protocol.NewStreamDecoder(l.r)
	l.enc = protocol.NewStreamEncoder(l.w)
	return l
}

// WriteFrame implements the Link interface.
func (l *connLink) WriteFrame(f *Frame) error {
	l.writeLock.Lock()
	defer l.writeLock.Unlock()

	if l.timeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.timeout))
	}
	if err := l.enc.Encode(f); err != nil {
		return err
	}
	return l.w.Flush()
}

// Close implements the Link interface.
func (l *connLink) Close() error {
	return l.conn.Close()
}

// readFrame is only called by the goroutine that owns the read side.
func (l *connLink) readFrame() (*Frame, error) {
	var f Frame
	if err := l.dec.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}
