// Package net implements the message channels through which nodes exchange
// requests and responses, and the transports that open them.
//
// A MessageChannel is a duplex link to a neighbour. Every request sent on a
// channel gets exactly one response: the one produced by the remote node, or
// a synthetic Timeout or ChannelClosed response produced locally. The
// Registry owns the established channels of a node.
//
// Transports open channels and report them through their Events channel.
// Incoming requests, whatever channel they arrived on, are handed to the
// consumer of the transport as RPC objects. There are several
// implementations:
//
// - Inmem: in-memory transport used for testing
//
// - TCP: a NetworkTransport over plain TCP
//
// - WebRTC: a NetworkTransport over WebRTC DataChannels, for nodes behind
// NATs. Connection information is exchanged through a signal.Signal.
//
// - Broker: channels relayed by a WAMP router (see the broker package)
//
// All transports use the same channel handshake. The initiator chooses a
// random channel id and sends it along with its node id, and the other end
// answers with its own node id, or refuses the channel.
package net
