// Package routing computes routes through the network of nodes with a
// link-state protocol.
//
// Every node advertises its own links, one per established channel, as a
// node property (key "lsa"). The property layer floods these link state
// advertisements to all nodes, so every node eventually knows every link.
// Each change of an advertisement rebuilds an immutable NetworkGraph, which
// is published atomically; routes are computed on the part of the graph that
// is reachable from the local node.
//
// Routes minimize the total link weight, then the number of hops. Remaining
// ties are broken deterministically, so that all callers asking for the same
// destination on the same snapshot get the same route.
package routing
