package net

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/protocol"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrChannelClosed is returned when writing to a channel that is no
	// longer established.
	ErrChannelClosed = errors.New("channel closed")
)

// ChannelState is the lifecycle state of a MessageChannel.
type ChannelState uint32

const (
	// Connecting is the state of a channel during the handshake.
	Connecting ChannelState = iota
	// Established is the state of a channel that can carry requests.
	Established
	// Closed is terminal.
	Closed
)

func (s ChannelState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Established:
		return "Established"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ResponseHandler receives the single response of a request.
type ResponseHandler func(*protocol.NetworkResponse)

// MessageChannel is a duplex connection to a neighbour node, over which
// requests are sent and correlated with their responses.
type MessageChannel interface {
	// ChannelID returns the id chosen by the initiator of the channel.
	ChannelID() string

	// RemoteNodeID returns the session id of the node at the other end.
	RemoteNodeID() identity.InstanceNodeSessionID

	// State returns the current state of the channel.
	State() ChannelState

	// SendAsync sends a request and returns immediately. The handler is
	// called exactly once, with the response, or with a synthetic Timeout or
	// ChannelClosed response.
	SendAsync(req *protocol.NetworkRequest, handler ResponseHandler, timeout time.Duration)

	// SendBlocking sends a request and waits for its response, at most
	// until the timeout expires.
	SendBlocking(req *protocol.NetworkRequest, timeout time.Duration) *protocol.NetworkResponse

	// Close closes the channel. Pending requests fail with ChannelClosed
	// before Close returns.
	Close() error
}

// NewChannelID returns a random channel id.
func NewChannelID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Link carries the frames of one channel to the remote endpoint.
type Link interface {
	WriteFrame(f *Frame) error
	Close() error
}

// Channel is the MessageChannel implementation shared by all transports.
// Transports provide the Link, the Endpoint does the rest.
type Channel struct {
	id       string
	local    identity.InstanceNodeSessionID
	remote   identity.InstanceNodeSessionID
	state    uint32
	link     Link
	pending  *pendingRequests
	endpoint *Endpoint

	closeOnce sync.Once

	logger *logrus.Entry
}

func newChannel(
	id string,
	local identity.InstanceNodeSessionID,
	remote identity.InstanceNodeSessionID,
	link Link,
	endpoint *Endpoint,
	logger *logrus.Entry,
) *Channel {
	return &Channel{
		id:       id,
		local:    local,
		remote:   remote,
		state:    uint32(Connecting),
		link:     link,
		pending:  newPendingRequests(),
		endpoint: endpoint,
		logger: logger.WithFields(logrus.Fields{
			"channel": id,
			"remote":  remote.RawID(),
		}),
	}
}

// ChannelID implements the MessageChannel interface.
func (c *Channel) ChannelID() string {
	return c.id
}

// RemoteNodeID implements the MessageChannel interface.
func (c *Channel) RemoteNodeID() identity.InstanceNodeSessionID {
	return c.remote
}

// State implements the MessageChannel interface.
func (c *Channel) State() ChannelState {
	return ChannelState(atomic.LoadUint32(&c.state))
}

func (c *Channel) setState(s ChannelState) {
	atomic.StoreUint32(&c.state, uint32(s))
}

// SendAsync implements the MessageChannel interface.
func (c *Channel) SendAsync(req *protocol.NetworkRequest, handler ResponseHandler, timeout time.Duration) {
	if c.State() != Established {
		resp := protocol.CreateFailureResponse(req, protocol.ChannelClosed, ErrChannelClosed)
		go handler(resp)
		return
	}

	body, err := protocol.EncodeRequest(req)
	if err != nil {
		resp := protocol.CreateFailureResponse(req, protocol.SerializationFailure, err)
		go handler(resp)
		return
	}

	if !c.pending.add(req.RequestID, handler, timeout) {
		resp := protocol.CreateFailureResponse(req, protocol.ChannelClosed, ErrChannelClosed)
		go handler(resp)
		return
	}

	go func() {
		err := c.link.WriteFrame(&Frame{Kind: FrameRequest, Channel: c.id, Body: body})
		if err != nil {
			c.logger.WithError(err).Debug("Failed to write request")
			c.pending.complete(protocol.NewFailureResponse(req.RequestID, protocol.ChannelClosed, err))
			c.drop()
		}
	}()
}

// SendBlocking implements the MessageChannel interface.
func (c *Channel) SendBlocking(req *protocol.NetworkRequest, timeout time.Duration) *protocol.NetworkResponse {
	respCh := make(chan *protocol.NetworkResponse, 1)
	c.SendAsync(req, func(resp *protocol.NetworkResponse) {
		respCh <- resp
	}, timeout)
	return <-respCh
}

// Close implements the MessageChannel interface. The remote end is told about
// the closure on a best-effort basis.
func (c *Channel) Close() error {
	c.shutdown(true)
	return nil
}

// PendingCount returns the number of requests awaiting a response.
func (c *Channel) PendingCount() int {
	return c.pending.len()
}

// drop closes the channel without notifying the remote end, because it went
// away or asked for the closure itself.
func (c *Channel) drop() {
	c.shutdown(false)
}

func (c *Channel) shutdown(notify bool) {
	c.closeOnce.Do(func() {
		wasOpen := c.State() == Established
		c.setState(Closed)
		c.pending.failAll(protocol.ChannelClosed, ErrChannelClosed)

		go func() {
			if notify {
				c.link.WriteFrame(&Frame{Kind: FrameClose, Channel: c.id})
			}
			if err := c.link.Close(); err != nil {
				c.logger.WithError(err).Debug("Failed to close link")
			}
		}()

		if c.endpoint != nil {
			c.endpoint.forget(c, wasOpen)
		}
		c.logger.Debug("Channel closed")
	})
}

func (c *Channel) deliver(resp *protocol.NetworkResponse) {
	if !c.pending.complete(resp) {
		c.logger.WithField("request", resp.RequestID).Debug("Dropping response to unknown or expired request")
	}
}

func (c *Channel) respond(resp *protocol.NetworkResponse) {
	body, err := protocol.EncodeResponse(resp)
	if err != nil {
		c.logger.WithError(err).Error("Failed to encode response")
		body, _ = protocol.EncodeResponse(protocol.NewFailureResponse(resp.RequestID, protocol.SerializationFailure, err))
	}
	if err := c.link.WriteFrame(&Frame{Kind: FrameResponse, Channel: c.id, Body: body}); err != nil {
		c.logger.WithError(err).Debug("Failed to write response")
		c.drop()
	}
}
