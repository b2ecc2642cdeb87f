package rpc

import (
	"errors"
	"fmt"
)

// RemoteError is returned by Invoke when the remote method failed.
type RemoteError struct {
	Service string
	Method  string
	Type    string
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s.%s failed remotely: %s: %s", e.Service, e.Method, e.Type, e.Message)
}

// ErrorType returns the type of the remote error.
func (e *RemoteError) ErrorType() string {
	return e.Type
}

// IsRemoteError reports whether err is a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// NoSuchMethodError is reported to callers of unknown services or methods.
type NoSuchMethodError struct {
	Service string
	Method  string
}

// Error implements the error interface.
func (e *NoSuchMethodError) Error() string {
	return fmt.Sprintf("no method %s.%s", e.Service, e.Method)
}

// ErrorType is the type reported in the RemoteError.
func (e *NoSuchMethodError) ErrorType() string {
	return "NoSuchMethod"
}

// ArgumentError is returned by the argument accessors of Call.
type ArgumentError struct {
	Index  int
	Reason string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %d: %s", e.Index, e.Reason)
}

// ErrorType is the type reported in the RemoteError.
func (e *ArgumentError) ErrorType() string {
	return "BadArgument"
}

type typedError interface {
	ErrorType() string
}

func errorType(err error) string {
	var t typedError
	if errors.As(err, &t) && t.ErrorType() != "" {
		return t.ErrorType()
	}
	return fmt.Sprintf("%T", err)
}
