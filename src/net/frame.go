package net

import (
	"fmt"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/protocol"
)

// FrameKind tags the frames exchanged over a Link.
type FrameKind uint8

const (
	// FrameHandshake opens a channel. It is sent by the initiator.
	FrameHandshake FrameKind = iota + 1
	// FrameHandshakeAck accepts or refuses a channel.
	FrameHandshakeAck
	// FrameRequest carries an encoded NetworkRequest.
	FrameRequest
	// FrameResponse carries an encoded NetworkResponse.
	FrameResponse
	// FrameClose tells the remote end that the channel is closed.
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameHandshake:
		return "Handshake"
	case FrameHandshakeAck:
		return "HandshakeAck"
	case FrameRequest:
		return "Request"
	case FrameResponse:
		return "Response"
	case FrameClose:
		return "Close"
	default:
		return fmt.Sprintf("FrameKind(%d)", uint8(k))
	}
}

// Frame is the unit written to a Link.
type Frame struct {
	Kind    FrameKind `codec:"k"`
	Channel string    `codec:"ch"`
	Body    []byte    `codec:"b"`
}

// EncodeFrame serializes a frame, for links that carry byte strings.
func EncodeFrame(f *Frame) ([]byte, error) {
	return protocol.Encode(f)
}

// DecodeFrame deserializes a frame produced by EncodeFrame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := protocol.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	if f.Kind < FrameHandshake || f.Kind > FrameClose {
		return nil, fmt.Errorf("%w: frame kind %d", protocol.ErrMalformed, f.Kind)
	}
	return &f, nil
}

// hello is the body of handshake frames.
type hello struct {
	Node    string `codec:"n"`
	Version uint8  `codec:"v"`
	Error   string `codec:"e"`
}

// NewHandshake returns the frame by which the initiator opens a channel.
func NewHandshake(channelID string, local identity.InstanceNodeSessionID) (*Frame, error) {
	body, err := protocol.Encode(&hello{Node: local.RawID(), Version: protocol.ProtocolVersion})
	if err != nil {
		return nil, err
	}
	return &Frame{Kind: FrameHandshake, Channel: channelID, Body: body}, nil
}

func newHandshakeAck(channelID string, local identity.InstanceNodeSessionID, refusal error) *Frame {
	h := &hello{Node: local.RawID(), Version: protocol.ProtocolVersion}
	if refusal != nil {
		h.Error = refusal.Error()
	}
	body, _ := protocol.Encode(h)
	return &Frame{Kind: FrameHandshakeAck, Channel: channelID, Body: body}
}

func parseHello(f *Frame) (identity.InstanceNodeSessionID, error) {
	var h hello
	if err := protocol.Decode(f.Body, &h); err != nil {
		return identity.InstanceNodeSessionID{}, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	if h.Error != "" {
		return identity.InstanceNodeSessionID{}, fmt.Errorf("channel refused: %s", h.Error)
	}
	if h.Version != protocol.ProtocolVersion {
		return identity.InstanceNodeSessionID{}, fmt.Errorf("protocol version %d, expected %d", h.Version, protocol.ProtocolVersion)
	}
	return identity.ParseInstanceNodeSessionID(h.Node)
}
