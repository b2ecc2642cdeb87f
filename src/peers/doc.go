// Package peers manages the list of neighbours a node connects to on startup.
//
// Upon starting up, a node looks for a peers.json file in its data directory.
// The file lists the addresses of the nodes the local node should establish
// channels with, and keep reconnecting to when channels go down. Nodes that
// are not listed can still connect to the local node; the list only drives
// outgoing connections.
//
// With the tcp transport, the address is an IP:Port. With the broker and webrtc
// transports, it is the raw session id of the neighbour as registered with the
// broker.
package peers
