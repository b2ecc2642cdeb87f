package protocol

import (
	"fmt"
	"sort"

	"github.com/rcenet/rce/src/common"
)

// ProtocolVersion is bumped whenever the envelopes or the message type
// vocabulary change in an incompatible way.
const ProtocolVersion uint8 = 1

// MessageType tags a NetworkRequest with the subsystem that handles it.
type MessageType string

// The closed message type vocabulary of ProtocolVersion.
const (
	// MessageTypeRPC carries a remote method invocation.
	MessageTypeRPC MessageType = "rpc"
	// MessageTypePropertyGossip carries a batch of node properties, link-state
	// advertisements included.
	MessageTypePropertyGossip MessageType = "gossip"
	// MessageTypeHeartbeat checks that a channel is alive.
	MessageTypeHeartbeat MessageType = "heartbeat"
	// MessageTypeHealthCheck asks a node for its name and version.
	MessageTypeHealthCheck MessageType = "healthcheck"
)

var vocabulary = map[MessageType]struct{}{
	MessageTypeRPC:            {},
	MessageTypePropertyGossip: {},
	MessageTypeHeartbeat:      {},
	MessageTypeHealthCheck:    {},
}

// IsValid reports whether the type belongs to the vocabulary.
func (t MessageType) IsValid() bool {
	_, ok := vocabulary[t]
	return ok
}

// MessageTypes returns the vocabulary in lexical order.
func MessageTypes() []MessageType {
	res := make([]MessageType, 0, len(vocabulary))
	for t := range vocabulary {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// UnsupportedMessageTypeError is returned when a message type is not part of
// the vocabulary, typically because the peer speaks another protocol version.
type UnsupportedMessageTypeError struct {
	Type MessageType
}

// Error implements the error interface.
func (e *UnsupportedMessageTypeError) Error() string {
	return fmt.Sprintf("unsupported message type %q (protocol version %d)", string(e.Type), ProtocolVersion)
}

// ErrType implements common.Typed.
func (e *UnsupportedMessageTypeError) ErrType() common.ErrType {
	return common.UnsupportedMessageType
}

// IsUnsupportedMessageType reports whether err is an
// UnsupportedMessageTypeError.
func IsUnsupportedMessageType(err error) bool {
	return common.Is(err, common.UnsupportedMessageType)
}

// CheckMessageType returns an UnsupportedMessageTypeError for types outside the
// vocabulary.
func CheckMessageType(t MessageType) error {
	if !t.IsValid() {
		return &UnsupportedMessageTypeError{Type: t}
	}
	return nil
}
