package net

import (
	"time"
)

// ChannelEventType tells whether a channel opened or closed.
type ChannelEventType uint8

const (
	// ChannelOpened is emitted once the handshake of a channel completed,
	// in either direction.
	ChannelOpened ChannelEventType = iota
	// ChannelDown is emitted when an established channel closed, locally or
	// remotely.
	ChannelDown
)

func (t ChannelEventType) String() string {
	if t == ChannelOpened {
		return "Opened"
	}
	return "Down"
}

// ChannelEvent is a change in the set of channels of a transport.
type ChannelEvent struct {
	Type    ChannelEventType
	Channel MessageChannel
}

// Transport provides an interface for network transports to allow a node to
// open channels with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to consume and respond to
	// incoming requests, whatever channel they arrived on.
	Consumer() <-chan RPC

	// Events returns the channel through which opened and closed channels
	// are reported.
	Events() <-chan ChannelEvent

	// Connect opens a channel to the node listening at target.
	Connect(target string, timeout time.Duration) (MessageChannel, error)

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
