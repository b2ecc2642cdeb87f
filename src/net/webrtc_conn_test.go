package net

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"
)

// pipeDataChannel stands in for a detached datachannel.
type pipeDataChannel struct {
	net.Conn
}

func (p pipeDataChannel) ReadDataChannel(b []byte) (int, bool, error) {
	n, err := p.Read(b)
	return n, false, err
}

func (p pipeDataChannel) WriteDataChannel(b []byte, isString bool) (int, error) {
	return p.Write(b)
}

// newTestWebRTCConn returns a WebRTCConn and the raw other end of its
// datachannel.
func newTestWebRTCConn(t *testing.T) (*WebRTCConn, net.Conn) {
	a, b := net.Pipe()
	c := NewWebRTCConn(pipeDataChannel{a}, webrtcAddr("alice"), webrtcAddr("bob"))
	t.Cleanup(func() {
		c.Close()
		b.Close()
	})
	return c, b
}

func assertTimeout(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", err)
	}
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("%v should be a timeout net.Error", err)
	}
}

func TestWebRTCConnAddrs(t *testing.T) {
	c, _ := newTestWebRTCConn(t)

	if c.LocalAddr().String() != "alice" || c.RemoteAddr().String() != "bob" {
		t.Fatalf("unexpected addresses %s -> %s", c.LocalAddr(), c.RemoteAddr())
	}
	if c.RemoteAddr().Network() != "webrtc" {
		t.Fatalf("network should be webrtc, not %s", c.RemoteAddr().Network())
	}
}

func TestWebRTCConnReadDeadline(t *testing.T) {
	c, peer := newTestWebRTCConn(t)

	c.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 16)
	start := time.Now()
	_, err := c.Read(buf)
	assertTimeout(t, err)
	if time.Since(start) > 2*time.Second {
		t.Fatalf("read deadline fired late")
	}

	// Clearing the deadline makes the conn usable again
	c.SetReadDeadline(time.Time{})
	go peer.Write([]byte("hi"))

	n, err := c.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hi" {
		t.Fatalf("read %q, expected hi", buf[:n])
	}
}

func TestWebRTCConnDeadlineMovedDuringRead(t *testing.T) {
	c, _ := newTestWebRTCConn(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Read(make([]byte, 16))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.SetDeadline(time.Now())

	select {
	case err := <-errCh:
		assertTimeout(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending read ignored the new deadline")
	}
}

func TestWebRTCConnWriteDeadline(t *testing.T) {
	// nobody reads the other end, so writes block
	c, _ := newTestWebRTCConn(t)

	c.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	_, err := c.Write([]byte("stuck"))
	assertTimeout(t, err)

	// A missed write deadline closes the conn
	if _, err := c.Write([]byte("again")); err != io.ErrClosedPipe {
		t.Fatalf("expected ErrClosedPipe, got %v", err)
	}
	if _, err := c.Read(make([]byte, 16)); err != io.ErrClosedPipe {
		t.Fatalf("expected ErrClosedPipe, got %v", err)
	}
}

func TestWebRTCConnLargeWrite(t *testing.T) {
	c, peer := newTestWebRTCConn(t)

	payload := bytes.Repeat([]byte("0123456789"), (3*dataChannelMessageSize)/10+1)

	errCh := make(chan error, 1)
	go func() {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_, err := c.Write(payload)
		errCh <- err
	}()

	var got []byte
	buf := make([]byte, 2*dataChannelMessageSize)
	for len(got) < len(payload) {
		n, err := peer.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		if n > dataChannelMessageSize {
			t.Fatalf("message of %d bytes exceeds %d", n, dataChannelMessageSize)
		}
		got = append(got, buf[:n]...)
	}

	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload corrupted")
	}
}

func TestWebRTCConnShortReads(t *testing.T) {
	c, peer := newTestWebRTCConn(t)

	go peer.Write([]byte("abcdef"))

	buf := make([]byte, 4)
	n, err := c.Read(buf)
	if err != nil || string(buf[:n]) != "abcd" {
		t.Fatalf("first read: %q, %v", buf[:n], err)
	}
	n, err = c.Read(buf)
	if err != nil || string(buf[:n]) != "ef" {
		t.Fatalf("second read: %q, %v", buf[:n], err)
	}

	peer.Close()
	if _, err := c.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF once the peer closed, got %v", err)
	}
}
