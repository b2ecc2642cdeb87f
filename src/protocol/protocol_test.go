package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/rcenet/rce/src/identity"
)

func testSessions() (identity.InstanceNodeSessionID, identity.InstanceNodeSessionID) {
	return identity.NewInstanceNodeID().NewSession(), identity.NewInstanceNodeID().NewSession()
}

func TestCreateRequest(t *testing.T) {
	sender, recipient := testSessions()

	req, err := CreateRequest([]byte("hello"), MessageTypeRPC, sender, recipient)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(req.RequestID) != RequestIDLength {
		t.Fatalf("request id should have %d chars, not %d", RequestIDLength, len(req.RequestID))
	}
	if req.Metadata.HopCount != 0 {
		t.Fatalf("hop count should be 0, not %d", req.Metadata.HopCount)
	}

	other, _ := CreateRequest([]byte("hello"), MessageTypeRPC, sender, recipient)
	if other.RequestID == req.RequestID {
		t.Fatalf("request ids should be unique")
	}
}

func TestCreateRequestUnknownType(t *testing.T) {
	sender, recipient := testSessions()

	_, err := CreateRequest(nil, MessageType("telepathy"), sender, recipient)
	if !IsUnsupportedMessageType(err) {
		t.Fatalf("expected UnsupportedMessageTypeError, got %v", err)
	}
}

func TestResponsePreservesRequestID(t *testing.T) {
	sender, recipient := testSessions()
	req, _ := CreateRequest(nil, MessageTypeHeartbeat, sender, recipient)

	resp := CreateResponseForRequest(req, []byte("ok"))
	if resp.RequestID != req.RequestID {
		t.Fatalf("response id should be %s, not %s", req.RequestID, resp.RequestID)
	}
	if !resp.IsSuccess() || resp.Err() != nil {
		t.Fatalf("response should be successful")
	}

	fail := CreateFailureResponse(req, ExceptionAtDestination, errors.New("boom"))
	if fail.RequestID != req.RequestID {
		t.Fatalf("failure id should be %s, not %s", req.RequestID, fail.RequestID)
	}
	var rerr *ResponseError
	if !errors.As(fail.Err(), &rerr) {
		t.Fatalf("failure should yield a ResponseError, got %v", fail.Err())
	}
	if rerr.Code != ExceptionAtDestination || rerr.Message != "boom" {
		t.Fatalf("unexpected failure details: %+v", rerr)
	}
	if rerr.Type != "*errors.errorString" {
		t.Fatalf("failure type should be recorded, got %q", rerr.Type)
	}
}

func TestForwardedCopy(t *testing.T) {
	sender, recipient := testSessions()
	relay := identity.NewInstanceNodeID().NewSession()
	req, _ := CreateRequest([]byte("x"), MessageTypeRPC, sender, recipient)

	fwd := req.ForwardedCopy(relay)
	if fwd.Metadata.HopCount != 1 {
		t.Fatalf("hop count should be 1, not %d", fwd.Metadata.HopCount)
	}
	if req.Metadata.HopCount != 0 || len(req.Metadata.Trace) != 0 {
		t.Fatalf("original request should not be modified")
	}
	if len(fwd.Metadata.Trace) != 1 || fwd.Metadata.Trace[0] != relay.RawID() {
		t.Fatalf("trace should contain the relay: %v", fwd.Metadata.Trace)
	}
	if fwd.RequestID != req.RequestID {
		t.Fatalf("forwarded request should keep its id")
	}
}

func TestRequestEnvelope(t *testing.T) {
	sender, recipient := testSessions()
	req, _ := CreateRequest([]byte("payload"), MessageTypePropertyGossip, sender, recipient)
	req = req.ForwardedCopy(sender)

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	got, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if got.RequestID != req.RequestID ||
		got.MessageType != req.MessageType ||
		got.Sender != req.Sender ||
		got.Recipient != req.Recipient ||
		!bytes.Equal(got.Content, req.Content) ||
		got.Metadata.HopCount != req.Metadata.HopCount ||
		got.Metadata.CreatedAt != req.Metadata.CreatedAt {
		t.Fatalf("decoded request differs: %+v vs %+v", got, req)
	}
}

func TestDecodeRequestUnknownType(t *testing.T) {
	sender, recipient := testSessions()
	req, _ := CreateRequest(nil, MessageTypeRPC, sender, recipient)
	req.MessageType = "from-the-future"

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	got, err := DecodeRequest(data)
	if !IsUnsupportedMessageType(err) {
		t.Fatalf("expected UnsupportedMessageTypeError, got %v", err)
	}
	if got == nil || got.RequestID != req.RequestID {
		t.Fatalf("request should still be returned so it can be answered")
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	if _, err := DecodeRequest([]byte{0xc1, 0x00}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	env := &requestEnvelope{Version: ProtocolVersion, ID: "short", Type: string(MessageTypeRPC)}
	data, _ := Encode(env)
	if _, err := DecodeRequest(data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for a short id, got %v", err)
	}
}

func TestResponseEnvelope(t *testing.T) {
	sender, recipient := testSessions()
	req, _ := CreateRequest(nil, MessageTypeRPC, sender, recipient)

	cases := []*NetworkResponse{
		CreateResponseForRequest(req, []byte("result")),
		CreateFailureResponse(req, NoRouteToDestination, fmt.Errorf("no route to %s", recipient.RawID())),
		NewFailureResponse(req.RequestID, Timeout, nil),
	}

	for _, resp := range cases {
		data, err := EncodeResponse(resp)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		got, err := DecodeResponse(data)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if got.RequestID != resp.RequestID || got.Code != resp.Code {
			t.Fatalf("decoded response differs: %+v vs %+v", got, resp)
		}
		if !bytes.Equal(got.Content, resp.Content) {
			t.Fatalf("content should be %q, not %q", resp.Content, got.Content)
		}
		if resp.Failure != nil {
			if got.Failure == nil || got.Failure.Message != resp.Failure.Message || got.Failure.Type != resp.Failure.Type {
				t.Fatalf("failure should be %+v, not %+v", resp.Failure, got.Failure)
			}
		}
	}
}

func TestResultCodeIsUnreachable(t *testing.T) {
	unreachable := map[ResultCode]bool{
		Success:                  false,
		ExceptionAtDestination:   false,
		NoRouteToDestination:     true,
		ChannelClosed:            true,
		Timeout:                  true,
		HopLimitExceeded:         true,
		ProtocolError:            false,
		SerializationFailure:     false,
		ExceptionWhileForwarding: true,
	}
	for code, exp := range unreachable {
		if code.IsUnreachable() != exp {
			t.Fatalf("%s.IsUnreachable() should be %v", code, exp)
		}
	}
}
