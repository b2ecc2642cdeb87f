package common

import "errors"

// ErrType classifies the errors shared by several packages of the
// communication layer.
type ErrType uint32

const (
	// InvalidIdentifier is used when a node identifier cannot be parsed.
	InvalidIdentifier ErrType = iota
	// UnsupportedMessageType is used for message types outside the protocol
	// vocabulary.
	UnsupportedMessageType
	// DisallowedKind is used when a payload kind is not part of the
	// serialization allow-list.
	DisallowedKind
	// NoRoute is used when a destination is not reachable.
	NoRoute
	// KeyNotFound is used by the persistent stores.
	KeyNotFound
)

var errTypes = []string{
	"Invalid Identifier",
	"Unsupported Message Type",
	"Disallowed Kind",
	"No Route",
	"Key Not Found",
}

// String returns the human readable name of the error type.
func (t ErrType) String() string {
	if int(t) < len(errTypes) {
		return errTypes[t]
	}
	return "Unknown"
}

// Typed is implemented by the categorized errors of the communication layer.
type Typed interface {
	error
	ErrType() ErrType
}

// Is checks that err, or any error it wraps, is a Typed error of type t.
func Is(err error, t ErrType) bool {
	var typed Typed
	return errors.As(err, &typed) && typed.ErrType() == t
}
