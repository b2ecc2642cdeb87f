package protocol

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rcenet/rce/src/identity"
)

// RequestIDLength is the fixed length of request ids.
const RequestIDLength = 32

// Metadata is the part of a request that nodes on the route may change.
type Metadata struct {
	// HopCount is the number of channels the request went through.
	HopCount int
	// CreatedAt is the unix time in nanoseconds at which the sender built the
	// request.
	CreatedAt int64
	// Trace lists the raw session ids of the nodes that forwarded the request.
	Trace []string
}

// NetworkRequest is a unit of work sent to a destination node.
type NetworkRequest struct {
	RequestID   string
	MessageType MessageType
	Sender      identity.InstanceNodeSessionID
	Recipient   identity.InstanceNodeSessionID
	Content     []byte
	Metadata    Metadata
}

// NewRequestID returns a random request id of RequestIDLength characters.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// CreateRequest builds a request with a fresh id. It fails with an
// UnsupportedMessageTypeError when the message type is not in the
// vocabulary.
func CreateRequest(
	content []byte,
	messageType MessageType,
	sender identity.InstanceNodeSessionID,
	recipient identity.InstanceNodeSessionID,
) (*NetworkRequest, error) {
	if err := CheckMessageType(messageType); err != nil {
		return nil, err
	}

	return &NetworkRequest{
		RequestID:   NewRequestID(),
		MessageType: messageType,
		Sender:      sender,
		Recipient:   recipient,
		Content:     content,
		Metadata: Metadata{
			CreatedAt: time.Now().UnixNano(),
		},
	}, nil
}

// ForwardedCopy returns a copy of the request for the next hop, with the hop
// count incremented and the forwarding node appended to the trace. Content is
// shared, it is never modified.
func (r *NetworkRequest) ForwardedCopy(via identity.InstanceNodeSessionID) *NetworkRequest {
	cp := *r
	cp.Metadata.HopCount++
	cp.Metadata.Trace = append(append([]string(nil), r.Metadata.Trace...), via.RawID())
	return &cp
}

// Age returns the time elapsed since the request was created.
func (r *NetworkRequest) Age() time.Duration {
	return time.Since(time.Unix(0, r.Metadata.CreatedAt))
}
