// Package messaging sends requests to any node of the network and serves the
// requests addressed to the local node.
//
// Outgoing requests follow the route computed by the routing package. Nodes
// on the way re-derive the next hop from the recipient of the request, so
// that topology changes made while the request travels are honored, and
// refuse to forward requests that went through too many nodes.
//
// Every request gets exactly one response. Handler errors and panics, routing
// failures and transport failures are all turned into failure responses.
package messaging
