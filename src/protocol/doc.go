// Package protocol defines the request/response model spoken between RCE
// nodes.
//
// Every interaction between nodes is a NetworkRequest answered by exactly one
// NetworkResponse. Requests carry a message type from a closed vocabulary, the
// session ids of the sender and final recipient, an opaque content payload,
// and routing metadata (hop count, trace). Responses are correlated with their
// request through the request id and carry either a result payload or a typed
// failure.
//
// Serialization
//
// Envelopes are encoded with msgpack. Application payloads (RPC arguments and
// results) go through a Schema: an explicit allow-list mapping kind names to Go
// types. A payload whose kind is not registered is refused on both ends, so a
// peer can never make a node instantiate arbitrary types.
package protocol
