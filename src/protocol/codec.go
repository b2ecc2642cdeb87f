package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/rcenet/rce/src/identity"
	"github.com/ugorji/go/codec"
)

// ErrMalformed is wrapped by the errors returned when an envelope cannot be
// decoded or fails validation.
var ErrMalformed = errors.New("malformed message")

func newMsgpackHandle() *codec.MsgpackHandle {
	mh := new(codec.MsgpackHandle)
	mh.WriteExt = true
	return mh
}

func newJSONHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return jh
}

var (
	mh = newMsgpackHandle()
	jh = newJSONHandle()
)

// Encode serializes v with msgpack. It is meant for the fixed message structs
// of the protocol itself, not for application payloads (see Schema).
func Encode(v interface{}) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, mh).Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

// Decode deserializes msgpack data produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, mh).Decode(v)
}

// NewStreamEncoder returns a msgpack encoder writing consecutive values to w.
func NewStreamEncoder(w io.Writer) *codec.Encoder {
	return codec.NewEncoder(w, mh)
}

// NewStreamDecoder returns a msgpack decoder reading consecutive values from r.
func NewStreamDecoder(r io.Reader) *codec.Decoder {
	return codec.NewDecoder(r, mh)
}

// EncodeJSON serializes v as canonical JSON, for values that end up in human
// readable places such as node properties.
func EncodeJSON(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	if err := codec.NewEncoder(b, jh).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// DecodeJSON deserializes JSON produced by EncodeJSON into v.
func DecodeJSON(data []byte, v interface{}) error {
	return codec.NewDecoder(bytes.NewReader(data), jh).Decode(v)
}

type requestEnvelope struct {
	Version   uint8    `codec:"v"`
	ID        string   `codec:"id"`
	Type      string   `codec:"t"`
	Sender    string   `codec:"s"`
	Recipient string   `codec:"r"`
	Content   []byte   `codec:"c"`
	HopCount  int      `codec:"h"`
	CreatedAt int64    `codec:"ts"`
	Trace     []string `codec:"tr"`
}

type responseEnvelope struct {
	Version        uint8  `codec:"v"`
	ID             string `codec:"id"`
	Code           int    `codec:"code"`
	Content        []byte `codec:"c"`
	HasFailure     bool   `codec:"f"`
	FailureType    string `codec:"ft"`
	FailureMessage string `codec:"fm"`
}

// EncodeRequest serializes a request envelope.
func EncodeRequest(r *NetworkRequest) ([]byte, error) {
	return Encode(&requestEnvelope{
		Version:   ProtocolVersion,
		ID:        r.RequestID,
		Type:      string(r.MessageType),
		Sender:    r.Sender.RawID(),
		Recipient: r.Recipient.RawID(),
		Content:   r.Content,
		HopCount:  r.Metadata.HopCount,
		CreatedAt: r.Metadata.CreatedAt,
		Trace:     r.Metadata.Trace,
	})
}

// DecodeRequest deserializes and validates a request envelope. An unknown
// message type yields an UnsupportedMessageTypeError, so that the receiving
// node can answer with a protocol error instead of ignoring the request.
func DecodeRequest(data []byte) (*NetworkRequest, error) {
	var env requestEnvelope
	if err := Decode(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: protocol version %d, expected %d", ErrMalformed, env.Version, ProtocolVersion)
	}
	if len(env.ID) != RequestIDLength {
		return nil, fmt.Errorf("%w: request id length %d", ErrMalformed, len(env.ID))
	}
	sender, err := identity.ParseInstanceNodeSessionID(env.Sender)
	if err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrMalformed, err)
	}
	recipient, err := identity.ParseInstanceNodeSessionID(env.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrMalformed, err)
	}

	req := &NetworkRequest{
		RequestID:   env.ID,
		MessageType: MessageType(env.Type),
		Sender:      sender,
		Recipient:   recipient,
		Content:     env.Content,
		Metadata: Metadata{
			HopCount:  env.HopCount,
			CreatedAt: env.CreatedAt,
			Trace:     env.Trace,
		},
	}

	// The request is returned along with the error so that the caller can
	// still answer it.
	if err := CheckMessageType(req.MessageType); err != nil {
		return req, err
	}
	return req, nil
}

// EncodeResponse serializes a response envelope.
func EncodeResponse(r *NetworkResponse) ([]byte, error) {
	env := &responseEnvelope{
		Version: ProtocolVersion,
		ID:      r.RequestID,
		Code:    int(r.Code),
		Content: r.Content,
	}
	if r.Failure != nil {
		env.HasFailure = true
		env.FailureType = r.Failure.Type
		env.FailureMessage = r.Failure.Message
	}
	return Encode(env)
}

// DecodeResponse deserializes and validates a response envelope.
func DecodeResponse(data []byte) (*NetworkResponse, error) {
	var env responseEnvelope
	if err := Decode(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: protocol version %d, expected %d", ErrMalformed, env.Version, ProtocolVersion)
	}
	if len(env.ID) != RequestIDLength {
		return nil, fmt.Errorf("%w: request id length %d", ErrMalformed, len(env.ID))
	}
	code := ResultCode(env.Code)
	if code < Success || int(code) >= len(resultCodes) {
		return nil, fmt.Errorf("%w: result code %d", ErrMalformed, env.Code)
	}

	resp := &NetworkResponse{
		RequestID: env.ID,
		Code:      code,
		Content:   env.Content,
	}
	if env.HasFailure || code != Success {
		resp.Failure = &Failure{
			Code:    code,
			Type:    env.FailureType,
			Message: env.FailureMessage,
		}
	}
	return resp, nil
}
