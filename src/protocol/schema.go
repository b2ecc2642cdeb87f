package protocol

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rcenet/rce/src/common"
)

// SchemaVersion is written into every payload envelope.
const SchemaVersion uint8 = 1

// Kinds registered by NewSchema.
const (
	KindNil       = "nil"
	KindString    = "string"
	KindBytes     = "bytes"
	KindBool      = "bool"
	KindInt       = "int"
	KindInt64     = "int64"
	KindFloat64   = "float64"
	KindStrings   = "strings"
	KindStringMap = "stringmap"
)

// DisallowedKindError is returned when a value, or an incoming payload, is not
// covered by the allow-list of a Schema.
type DisallowedKindError struct {
	Kind   string
	GoType string
}

// Error implements the error interface.
func (e *DisallowedKindError) Error() string {
	if e.GoType != "" {
		return fmt.Sprintf("type %s is not registered for serialization", e.GoType)
	}
	return fmt.Sprintf("payload kind %q is not registered for serialization", e.Kind)
}

// ErrType implements common.Typed.
func (e *DisallowedKindError) ErrType() common.ErrType {
	return common.DisallowedKind
}

// IsDisallowedKind reports whether err is a DisallowedKindError.
func IsDisallowedKind(err error) bool {
	return common.Is(err, common.DisallowedKind)
}

type payloadEnvelope struct {
	Version uint8  `codec:"v"`
	Kind    string `codec:"k"`
	Body    []byte `codec:"b"`
}

// Schema is the explicit allow-list of payload kinds. Serialized payloads are a
// tagged union: the kind name followed by the msgpack encoding of the value.
// Decoding only ever instantiates registered types.
type Schema struct {
	mu     sync.RWMutex
	byKind map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewSchema returns a Schema with the builtin kinds registered.
func NewSchema() *Schema {
	s := &Schema{
		byKind: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	s.MustRegister(KindString, "")
	s.MustRegister(KindBytes, []byte(nil))
	s.MustRegister(KindBool, false)
	s.MustRegister(KindInt, 0)
	s.MustRegister(KindInt64, int64(0))
	s.MustRegister(KindFloat64, float64(0))
	s.MustRegister(KindStrings, []string(nil))
	s.MustRegister(KindStringMap, map[string]string(nil))
	return s
}

// Register adds the type of sample to the allow-list under the given kind.
// Interface, channel and function types are refused since they cannot be
// decoded into a concrete value.
func (s *Schema) Register(kind string, sample interface{}) error {
	if kind == "" || kind == KindNil {
		return fmt.Errorf("reserved kind name %q", kind)
	}
	if sample == nil {
		return fmt.Errorf("kind %q: nil sample", kind)
	}
	t := reflect.TypeOf(sample)
	switch t.Kind() {
	case reflect.Interface, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Errorf("kind %q: type %s cannot be serialized", kind, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKind[kind]; ok && existing != t {
		return fmt.Errorf("kind %q already registered for %s", kind, existing)
	}
	if existing, ok := s.byType[t]; ok && existing != kind {
		return fmt.Errorf("type %s already registered as %q", t, existing)
	}
	s.byKind[kind] = t
	s.byType[t] = kind
	return nil
}

// MustRegister is like Register but panics on error.
func (s *Schema) MustRegister(kind string, sample interface{}) {
	if err := s.Register(kind, sample); err != nil {
		panic(err)
	}
}

// Kinds returns the registered kind names in lexical order.
func (s *Schema) Kinds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]string, 0, len(s.byKind))
	for k := range s.byKind {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// Serialize encodes v. It fails with a DisallowedKindError if the type of v
// is not registered.
func (s *Schema) Serialize(v interface{}) ([]byte, error) {
	env := payloadEnvelope{Version: SchemaVersion, Kind: KindNil}

	if v != nil {
		t := reflect.TypeOf(v)
		s.mu.RLock()
		kind, ok := s.byType[t]
		s.mu.RUnlock()
		if !ok {
			return nil, &DisallowedKindError{GoType: t.String()}
		}

		body, err := Encode(v)
		if err != nil {
			return nil, err
		}
		env.Kind = kind
		env.Body = body
	}

	return Encode(&env)
}

// Deserialize decodes a payload produced by Serialize. It fails with a
// DisallowedKindError if the kind is unknown to this Schema.
func (s *Schema) Deserialize(data []byte) (interface{}, error) {
	var env payloadEnvelope
	if err := Decode(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, expected %d", ErrMalformed, env.Version, SchemaVersion)
	}
	if env.Kind == KindNil {
		return nil, nil
	}

	s.mu.RLock()
	t, ok := s.byKind[env.Kind]
	s.mu.RUnlock()
	if !ok {
		return nil, &DisallowedKindError{Kind: env.Kind}
	}

	ptr := reflect.New(t)
	if err := Decode(env.Body, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%w: kind %s: %v", ErrMalformed, env.Kind, err)
	}
	return ptr.Elem().Interface(), nil
}
