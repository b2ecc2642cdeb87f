// Package broker relays message channels through a WAMP router.
//
// Nodes that cannot open direct connections to each other connect to a
// common router instead. Every node registers a procedure named after its
// session id, and the frames of a channel are passed as call arguments to the
// procedure of the remote node. The channel handshake is answered in the call
// result.
//
// The same router also carries the SDP offers and answers of the WebRTC
// transport (see Signal), so that nodes can upgrade to a direct DataChannel
// when the network allows it.
//
// If a cert.pem file is found in the data directory of a node, it is used to
// verify the certificate of the router. Otherwise the platform's trusted
// certificates are used. Certificate verification can be turned off for
// testing.
package broker

const (
	// ErrNoSuchChannel is returned to the caller when a frame refers to a
	// channel the callee does not know.
	ErrNoSuchChannel = "rce.error.no_such_channel"

	// ErrBadFrame is returned to the caller when a frame cannot be decoded.
	ErrBadFrame = "rce.error.bad_frame"

	// ErrProcessingOffer indicates that the client who received the offer ran
	// into an error while processing it.
	ErrProcessingOffer = "rce.error.processing_offer"

	nodeProcedurePrefix   = "rce.node."
	signalProcedurePrefix = "rce.signal."
)
