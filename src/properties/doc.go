// Package properties propagates key/value properties published by nodes to
// the whole network.
//
// Every node publishes its own properties with a sequence number that grows
// with each publication. Batches of properties are flooded from neighbour to
// neighbour. A node keeps, for each (publisher, key) pair, the entry with the
// highest sequence it has seen, and forwards only the entries that changed
// its store, so floods stop once every node has converged. Merging is
// commutative and idempotent: the order in which batches arrive does not
// matter, and receiving a batch twice has no effect.
//
// When a neighbour channel opens, the complete store is pushed to it, so that
// nodes joining the network catch up without waiting for new publications.
package properties
