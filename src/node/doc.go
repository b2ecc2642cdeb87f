// Package node assembles an RCE node.
//
// NewNode builds the components of a node in a fixed order on top of a
// transport: the channel registry, the property service, the routing service,
// the messaging service, and the RPC server with its callback service. Each
// component receives the ones it depends on explicitly.
//
// Channels
//
// Channels opened by either end are reported by the transport and added to
// the registry. Every heartbeat interval the node sends a heartbeat on each
// channel; a channel missing several heartbeats in a row is closed, which
// fails its pending requests at once instead of letting them time out. The
// node also tries to connect to the neighbours of its peers.json that have no
// channel.
//
// Properties
//
// Every node publishes its name, version and address as properties. The names
// published by other nodes are bound in identity.Names, so that node ids print
// with their display names in logs.
package node
