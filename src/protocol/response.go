package protocol

import (
	"fmt"
)

// ResultCode is the outcome of a request.
type ResultCode int

const (
	// Success means the recipient handled the request and produced a result.
	Success ResultCode = iota
	// ExceptionAtDestination means the handler on the recipient failed.
	ExceptionAtDestination
	// NoRouteToDestination means no path to the recipient was known.
	NoRouteToDestination
	// ChannelClosed means the channel carrying the request went down before
	// the response arrived.
	ChannelClosed
	// Timeout means no response arrived in time.
	Timeout
	// HopLimitExceeded means the request was dropped by a forwarding node.
	HopLimitExceeded
	// ProtocolError means the request was malformed or of an unknown type.
	ProtocolError
	// SerializationFailure means a payload could not be encoded or decoded.
	SerializationFailure
	// ExceptionWhileForwarding means a forwarding node failed for another
	// reason than the above.
	ExceptionWhileForwarding
)

var resultCodes = []string{
	"Success",
	"ExceptionAtDestination",
	"NoRouteToDestination",
	"ChannelClosed",
	"Timeout",
	"HopLimitExceeded",
	"ProtocolError",
	"SerializationFailure",
	"ExceptionWhileForwarding",
}

// String returns the name of the code.
func (c ResultCode) String() string {
	if c >= 0 && int(c) < len(resultCodes) {
		return resultCodes[c]
	}
	return fmt.Sprintf("ResultCode(%d)", int(c))
}

// IsUnreachable reports whether the code means that the request never got
// handled by the recipient, for transport or routing reasons. Callers can
// usually treat all of these the same way.
func (c ResultCode) IsUnreachable() bool {
	switch c {
	case NoRouteToDestination, ChannelClosed, Timeout, HopLimitExceeded, ExceptionWhileForwarding:
		return true
	}
	return false
}

// Failure describes why a request failed.
type Failure struct {
	Code    ResultCode
	Type    string
	Message string
}

// NetworkResponse is the answer to exactly one NetworkRequest.
type NetworkResponse struct {
	RequestID string
	Code      ResultCode
	Content   []byte
	Failure   *Failure
}

// CreateResponseForRequest builds a successful response carrying result.
func CreateResponseForRequest(req *NetworkRequest, result []byte) *NetworkResponse {
	return &NetworkResponse{
		RequestID: req.RequestID,
		Code:      Success,
		Content:   result,
	}
}

// CreateFailureResponse builds a failed response. The error type and message
// are kept so that the caller can tell why the request failed.
func CreateFailureResponse(req *NetworkRequest, code ResultCode, err error) *NetworkResponse {
	return NewFailureResponse(req.RequestID, code, err)
}

// NewFailureResponse is like CreateFailureResponse when only the request id is
// at hand.
func NewFailureResponse(requestID string, code ResultCode, err error) *NetworkResponse {
	f := &Failure{Code: code}
	if err != nil {
		f.Type = errorType(err)
		f.Message = err.Error()
	}
	return &NetworkResponse{
		RequestID: requestID,
		Code:      code,
		Failure:   f,
	}
}

// IsSuccess reports whether the request succeeded.
func (r *NetworkResponse) IsSuccess() bool {
	return r.Code == Success
}

// Err returns nil for successful responses and a ResponseError otherwise.
func (r *NetworkResponse) Err() error {
	if r.IsSuccess() {
		return nil
	}
	e := &ResponseError{RequestID: r.RequestID, Code: r.Code}
	if r.Failure != nil {
		e.Type = r.Failure.Type
		e.Message = r.Failure.Message
	}
	return e
}

// ResponseError is the error form of a failed NetworkResponse.
type ResponseError struct {
	RequestID string
	Code      ResultCode
	Type      string
	Message   string
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request %s failed: %s", e.RequestID, e.Code)
	}
	return fmt.Sprintf("request %s failed: %s: %s", e.RequestID, e.Code, e.Message)
}

// ErrorType returns the type of the error that caused the failure.
func (e *ResponseError) ErrorType() string {
	return e.Type
}

type typedError interface {
	ErrorType() string
}

func errorType(err error) string {
	if t, ok := err.(typedError); ok && t.ErrorType() != "" {
		return t.ErrorType()
	}
	return fmt.Sprintf("%T", err)
}
