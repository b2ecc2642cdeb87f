package rpc

import (
	"fmt"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/protocol"
)

// Call is a decoded method invocation.
type Call struct {
	Sender  identity.InstanceNodeSessionID
	Service string
	Method  string
	Args    []interface{}
}

// Method is an entry of a MethodTable.
type Method func(call *Call) (interface{}, error)

// MethodTable maps method names to their implementation.
type MethodTable map[string]Method

// String returns argument i as a string.
func (c *Call) String(i int) (string, error) {
	v, err := c.arg(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgumentError{Index: i, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}

// Int returns argument i as an int.
func (c *Call) Int(i int) (int, error) {
	v, err := c.arg(i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	}
	return 0, &ArgumentError{Index: i, Reason: fmt.Sprintf("expected int, got %T", v)}
}

// CallbackReference returns argument i as a CallbackReference.
func (c *Call) CallbackReference(i int) (CallbackReference, error) {
	v, err := c.arg(i)
	if err != nil {
		return CallbackReference{}, err
	}
	ref, ok := v.(CallbackReference)
	if !ok {
		return CallbackReference{}, &ArgumentError{Index: i, Reason: fmt.Sprintf("expected callback reference, got %T", v)}
	}
	return ref, nil
}

func (c *Call) arg(i int) (interface{}, error) {
	if i < 0 || i >= len(c.Args) {
		return nil, &ArgumentError{Index: i, Reason: fmt.Sprintf("only %d arguments", len(c.Args))}
	}
	return c.Args[i], nil
}

type wireCall struct {
	Service string   `codec:"s"`
	Method  string   `codec:"m"`
	Args    [][]byte `codec:"a"`
}

type wireError struct {
	Type    string `codec:"t"`
	Message string `codec:"m"`
}

type wireResult struct {
	Value []byte     `codec:"v"`
	Error *wireError `codec:"e"`
}

func encodeCall(schema *protocol.Schema, service, method string, args []interface{}) ([]byte, error) {
	wc := wireCall{Service: service, Method: method, Args: make([][]byte, len(args))}
	for i, a := range args {
		data, err := schema.Serialize(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s.%s: %w", i, service, method, err)
		}
		wc.Args[i] = data
	}
	return protocol.Encode(&wc)
}

func decodeCall(schema *protocol.Schema, data []byte) (*Call, error) {
	var wc wireCall
	if err := protocol.Decode(data, &wc); err != nil {
		return nil, fmt.Errorf("%w: method call: %v", protocol.ErrMalformed, err)
	}
	call := &Call{Service: wc.Service, Method: wc.Method, Args: make([]interface{}, len(wc.Args))}
	for i, a := range wc.Args {
		v, err := schema.Deserialize(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s.%s: %w", i, wc.Service, wc.Method, err)
		}
		call.Args[i] = v
	}
	return call, nil
}
