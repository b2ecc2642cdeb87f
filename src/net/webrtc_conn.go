package net

import (
	"io"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/datachannel"
)

// dataChannelMessageSize bounds the messages written to a datachannel, and
// therefore the buffer the reading side needs.
const dataChannelMessageSize = math.MaxUint16

// WebRTCConn implements net.Conn around a detached webrtc datachannel.
//
// Detached datachannels have no deadlines, so incoming messages are pumped
// by a goroutine and Read waits on the pump or the read deadline. Writes
// carrying a deadline run in the background; a write that misses its
// deadline closes the conn, as part of the payload may already be queued.
type WebRTCConn struct {
	dataChannel datachannel.ReadWriteCloser
	local       net.Addr
	remote      net.Addr

	readCh   chan readResult
	readLock sync.Mutex
	pending  []byte
	readErr  error

	writeLock sync.Mutex

	readDeadline  *connDeadline
	writeDeadline *connDeadline

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

type readResult struct {
	data []byte
	err  error
}

// NewWebRTCConn instantiates a WebRTCConn from a datachannel and starts
// reading from it. local and remote are the signal identifiers of both ends.
func NewWebRTCConn(dataChannel datachannel.ReadWriteCloser, local, remote net.Addr) *WebRTCConn {
	c := &WebRTCConn{
		dataChannel:   dataChannel,
		local:         local,
		remote:        remote,
		readCh:        make(chan readResult),
		readDeadline:  newConnDeadline(),
		writeDeadline: newConnDeadline(),
		closed:        make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *WebRTCConn) pump() {
	buf := make([]byte, dataChannelMessageSize)
	for {
		n, err := c.dataChannel.Read(buf)
		r := readResult{data: append([]byte(nil), buf[:n]...), err: err}
		select {
		case c.readCh <- r:
		case <-c.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// Read implements the Conn Read method. It fails with os.ErrDeadlineExceeded
// once the read deadline passes.
func (c *WebRTCConn) Read(p []byte) (int, error) {
	c.readLock.Lock()
	defer c.readLock.Unlock()

	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	if c.readErr != nil {
		return 0, c.readErr
	}

	for {
		expired, changed := c.readDeadline.channels()
		select {
		case r := <-c.readCh:
			n := copy(p, r.data)
			c.pending = r.data[n:]
			if r.err != nil {
				c.readErr = r.err
				if n == 0 {
					return 0, r.err
				}
			}
			return n, nil
		case <-expired:
			return 0, os.ErrDeadlineExceeded
		case <-changed:
		case <-c.closed:
			return 0, io.ErrClosedPipe
		}
	}
}

// Write implements the Conn Write method. Payloads are split into messages
// the remote end can read in one go.
func (c *WebRTCConn) Write(p []byte) (int, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	written := 0
	for written < len(p) {
		end := written + dataChannelMessageSize
		if end > len(p) {
			end = len(p)
		}
		n, err := c.writeMessage(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (c *WebRTCConn) writeMessage(msg []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	expired, changed := c.writeDeadline.channels()
	if expired == nil {
		return c.dataChannel.Write(msg)
	}

	// the background write outlives a timed out call, so it gets its own copy
	msg = append([]byte(nil), msg...)
	resCh := make(chan readResult, 1)
	go func() {
		n, err := c.dataChannel.Write(msg)
		resCh <- readResult{data: msg[:n], err: err}
	}()

	for {
		select {
		case r := <-resCh:
			return len(r.data), r.err
		case <-expired:
			c.Close()
			return 0, os.ErrDeadlineExceeded
		case <-changed:
			expired, changed = c.writeDeadline.channels()
		case <-c.closed:
			return 0, io.ErrClosedPipe
		}
	}
}

// Close implements the Conn Close method.
func (c *WebRTCConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.dataChannel.Close()
	})
	return c.closeErr
}

// LocalAddr returns the signal identifier of this end.
func (c *WebRTCConn) LocalAddr() net.Addr {
	return c.local
}

// RemoteAddr returns the signal identifier of the other end.
func (c *WebRTCConn) RemoteAddr() net.Addr {
	return c.remote
}

// SetDeadline implements the Conn SetDeadline method.
func (c *WebRTCConn) SetDeadline(t time.Time) error {
	c.readDeadline.set(t)
	c.writeDeadline.set(t)
	return nil
}

// SetReadDeadline implements the Conn SetReadDeadline method.
func (c *WebRTCConn) SetReadDeadline(t time.Time) error {
	c.readDeadline.set(t)
	return nil
}

// SetWriteDeadline implements the Conn SetWriteDeadline method.
func (c *WebRTCConn) SetWriteDeadline(t time.Time) error {
	c.writeDeadline.set(t)
	return nil
}

// connDeadline signals pending operations when a deadline passes or is moved.
type connDeadline struct {
	sync.Mutex
	timer   *time.Timer
	// closed when the current deadline passes; nil without a deadline
	expired chan struct{}
	// closed and replaced on every set
	changed chan struct{}
}

func newConnDeadline() *connDeadline {
	return &connDeadline{changed: make(chan struct{})}
}

func (d *connDeadline) channels() (expired, changed <-chan struct{}) {
	d.Lock()
	defer d.Unlock()
	return d.expired, d.changed
}

func (d *connDeadline) set(t time.Time) {
	d.Lock()
	defer d.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	close(d.changed)
	d.changed = make(chan struct{})

	if t.IsZero() {
		d.expired = nil
		return
	}

	// every deadline gets its own channel, closed by at most one timer
	expired := make(chan struct{})
	d.expired = expired
	if wait := time.Until(t); wait > 0 {
		d.timer = time.AfterFunc(wait, func() { close(expired) })
	} else {
		close(expired)
	}
}
