package protocol

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type testPoint struct {
	X, Y int
	Tag  string
}

type testUnregistered struct {
	A string
}

func TestSchemaBuiltins(t *testing.T) {
	s := NewSchema()

	values := []interface{}{
		nil,
		"text",
		[]byte{1, 2, 3},
		true,
		42,
		int64(-7),
		3.5,
		[]string{"a", "b"},
		map[string]string{"k": "v"},
	}

	for _, v := range values {
		data, err := s.Serialize(v)
		if err != nil {
			t.Fatalf("serialize %#v: %v", v, err)
		}
		got, err := s.Deserialize(data)
		if err != nil {
			t.Fatalf("deserialize %#v: %v", v, err)
		}
		if !reflect.DeepEqual(got, v) {
			t.Fatalf("expected %#v, got %#v", v, got)
		}
	}
}

func TestSchemaRegisteredStruct(t *testing.T) {
	s := NewSchema()
	s.MustRegister("point", testPoint{})

	data, err := s.Serialize(testPoint{X: 1, Y: 2, Tag: "p"})
	require.NoError(t, err)

	got, err := s.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, testPoint{X: 1, Y: 2, Tag: "p"}, got)
}

func TestSchemaDisallowedKind(t *testing.T) {
	s := NewSchema()

	_, err := s.Serialize(testUnregistered{A: "x"})
	if !IsDisallowedKind(err) {
		t.Fatalf("expected DisallowedKindError, got %v", err)
	}

	// A payload produced by a peer that knows more kinds.
	peer := NewSchema()
	peer.MustRegister("unregistered", testUnregistered{})
	data, err := peer.Serialize(testUnregistered{A: "x"})
	require.NoError(t, err)

	_, err = s.Deserialize(data)
	if !IsDisallowedKind(err) {
		t.Fatalf("expected DisallowedKindError, got %v", err)
	}
}

func TestSchemaRegisterConflicts(t *testing.T) {
	s := NewSchema()

	require.Error(t, s.Register("", testPoint{}))
	require.Error(t, s.Register(KindNil, testPoint{}))
	require.Error(t, s.Register("point", nil))
	require.Error(t, s.Register("string", testPoint{}))
	require.NoError(t, s.Register("point", testPoint{}))
	require.NoError(t, s.Register("point", testPoint{}))
	require.Error(t, s.Register("point2", testPoint{}))
	require.Contains(t, s.Kinds(), "point")
}

func TestSchemaMalformed(t *testing.T) {
	s := NewSchema()
	if _, err := s.Deserialize([]byte{0xc1}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestSchemaRoundTripProperty(t *testing.T) {
	s := NewSchema()
	s.MustRegister("point", testPoint{})

	rapid.Check(t, func(t *rapid.T) {
		p := testPoint{
			X:   rapid.Int().Draw(t, "x"),
			Y:   rapid.Int().Draw(t, "y"),
			Tag: rapid.String().Draw(t, "tag"),
		}
		data, err := s.Serialize(p)
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		got, err := s.Deserialize(data)
		if err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		if got != p {
			t.Fatalf("expected %+v, got %+v", p, got)
		}

		strs := rapid.SliceOfN(rapid.String(), 1, 8).Draw(t, "strings")
		data, err = s.Serialize(strs)
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		back, err := s.Deserialize(data)
		if err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		if !reflect.DeepEqual(back, strs) {
			t.Fatalf("expected %v, got %v", strs, back)
		}
	})
}
