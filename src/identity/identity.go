package identity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rcenet/rce/src/common"
)

const (
	// InstanceIDLength is the number of hex characters of an instance id.
	InstanceIDLength = 32

	// SessionPartLength is the number of hex characters of a session part.
	SessionPartLength = 10

	// DefaultLogicalPart is the logical part of the default LogicalNodeID of
	// an instance.
	DefaultLogicalPart = "0"

	sessionSeparator = "::"
	logicalSeparator = ":"
	maxLogicalLength = 64
)

// InvalidIdentifierError is returned when an identifier string is empty or
// malformed.
type InvalidIdentifierError struct {
	Raw    string
	Reason string
}

// Error implements the error interface.
func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Raw, e.Reason)
}

// ErrType implements common.Typed.
func (e *InvalidIdentifierError) ErrType() common.ErrType {
	return common.InvalidIdentifier
}

// IsInvalidIdentifier reports whether err is an InvalidIdentifierError.
func IsInvalidIdentifier(err error) bool {
	return common.Is(err, common.InvalidIdentifier)
}

// InstanceNodeID identifies an installation of the platform, across restarts.
type InstanceNodeID struct {
	raw string
}

// InstanceNodeSessionID identifies one run of an instance. It is the address
// of a node in the network.
type InstanceNodeSessionID struct {
	raw string
}

// LogicalNodeID groups the sessions of an instance under an endpoint that can
// be addressed independently of the session currently serving it.
type LogicalNodeID struct {
	raw string
}

// NewInstanceNodeID generates a random instance id.
func NewInstanceNodeID() InstanceNodeID {
	return InstanceNodeID{raw: randomHex(InstanceIDLength)}
}

// ParseInstanceNodeID validates and wraps a raw instance id.
func ParseInstanceNodeID(raw string) (InstanceNodeID, error) {
	if err := checkHex(raw, raw, InstanceIDLength); err != nil {
		return InstanceNodeID{}, err
	}
	return InstanceNodeID{raw: raw}, nil
}

// MustParseInstanceNodeID is like ParseInstanceNodeID but panics on malformed
// input. It is meant for constants and tests.
func MustParseInstanceNodeID(raw string) InstanceNodeID {
	id, err := ParseInstanceNodeID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// NewSession starts a new session of the instance, with a random session part.
func (i InstanceNodeID) NewSession() InstanceNodeSessionID {
	return InstanceNodeSessionID{raw: i.raw + sessionSeparator + randomHex(SessionPartLength)}
}

// DefaultLogicalNodeID returns the logical id every instance exposes.
func (i InstanceNodeID) DefaultLogicalNodeID() LogicalNodeID {
	return LogicalNodeID{raw: i.raw + logicalSeparator + DefaultLogicalPart}
}

// RawID returns the raw string form.
func (i InstanceNodeID) RawID() string {
	return i.raw
}

// IsZero reports whether the id is the zero value.
func (i InstanceNodeID) IsZero() bool {
	return i.raw == ""
}

// String renders the id with its display name.
func (i InstanceNodeID) String() string {
	return Names.format(i.raw, i.raw)
}

// ParseInstanceNodeSessionID validates and wraps a raw session id.
func ParseInstanceNodeSessionID(raw string) (InstanceNodeSessionID, error) {
	if raw == "" {
		return InstanceNodeSessionID{}, &InvalidIdentifierError{Raw: raw, Reason: "empty"}
	}
	parts := strings.Split(raw, sessionSeparator)
	if len(parts) != 2 {
		return InstanceNodeSessionID{}, &InvalidIdentifierError{Raw: raw, Reason: "missing session part"}
	}
	if err := checkHex(raw, parts[0], InstanceIDLength); err != nil {
		return InstanceNodeSessionID{}, err
	}
	if err := checkHex(raw, parts[1], SessionPartLength); err != nil {
		return InstanceNodeSessionID{}, err
	}
	return InstanceNodeSessionID{raw: raw}, nil
}

// MustParseInstanceNodeSessionID is like ParseInstanceNodeSessionID but panics
// on malformed input.
func MustParseInstanceNodeSessionID(raw string) InstanceNodeSessionID {
	id, err := ParseInstanceNodeSessionID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// RawID returns the raw string form.
func (s InstanceNodeSessionID) RawID() string {
	return s.raw
}

// IsZero reports whether the id is the zero value.
func (s InstanceNodeSessionID) IsZero() bool {
	return s.raw == ""
}

// InstanceNodeID returns the instance this session belongs to.
func (s InstanceNodeSessionID) InstanceNodeID() InstanceNodeID {
	if i := strings.Index(s.raw, sessionSeparator); i >= 0 {
		return InstanceNodeID{raw: s.raw[:i]}
	}
	return InstanceNodeID{}
}

// SessionPart returns the random part that distinguishes this session from
// other runs of the same instance.
func (s InstanceNodeSessionID) SessionPart() string {
	if i := strings.Index(s.raw, sessionSeparator); i >= 0 {
		return s.raw[i+len(sessionSeparator):]
	}
	return ""
}

// IsSameInstanceAs reports whether both sessions belong to the same instance.
func (s InstanceNodeSessionID) IsSameInstanceAs(other InstanceNodeSessionID) bool {
	return s.InstanceNodeID() == other.InstanceNodeID()
}

// String renders the id as "<display-name>" [<raw-id>].
func (s InstanceNodeSessionID) String() string {
	return Names.format(s.InstanceNodeID().raw, s.raw)
}

// ParseLogicalNodeID validates and wraps a raw logical node id.
func ParseLogicalNodeID(raw string) (LogicalNodeID, error) {
	if raw == "" {
		return LogicalNodeID{}, &InvalidIdentifierError{Raw: raw, Reason: "empty"}
	}
	if strings.Contains(raw, sessionSeparator) {
		return LogicalNodeID{}, &InvalidIdentifierError{Raw: raw, Reason: "session id given where a logical id was expected"}
	}
	i := strings.Index(raw, logicalSeparator)
	if i < 0 {
		return LogicalNodeID{}, &InvalidIdentifierError{Raw: raw, Reason: "missing logical part"}
	}
	if err := checkHex(raw, raw[:i], InstanceIDLength); err != nil {
		return LogicalNodeID{}, err
	}
	part := raw[i+1:]
	if part == "" || len(part) > maxLogicalLength {
		return LogicalNodeID{}, &InvalidIdentifierError{Raw: raw, Reason: "bad logical part length"}
	}
	return LogicalNodeID{raw: raw}, nil
}

// NewLogicalNodeID builds the logical id of an instance with a custom logical
// part.
func NewLogicalNodeID(instance InstanceNodeID, part string) (LogicalNodeID, error) {
	return ParseLogicalNodeID(instance.raw + logicalSeparator + part)
}

// RawID returns the raw string form.
func (l LogicalNodeID) RawID() string {
	return l.raw
}

// InstanceNodeID returns the instance serving this logical id.
func (l LogicalNodeID) InstanceNodeID() InstanceNodeID {
	if i := strings.Index(l.raw, logicalSeparator); i >= 0 {
		return InstanceNodeID{raw: l.raw[:i]}
	}
	return InstanceNodeID{}
}

// LogicalPart returns the part after the instance id.
func (l LogicalNodeID) LogicalPart() string {
	if i := strings.Index(l.raw, logicalSeparator); i >= 0 {
		return l.raw[i+1:]
	}
	return ""
}

// IsServedBy reports whether the given session currently serves this logical
// id.
func (l LogicalNodeID) IsServedBy(session InstanceNodeSessionID) bool {
	return l.InstanceNodeID() == session.InstanceNodeID()
}

// String renders the id with its display name.
func (l LogicalNodeID) String() string {
	return Names.format(l.InstanceNodeID().raw, l.raw)
}

func randomHex(n int) string {
	// a v4 uuid without dashes gives 32 random hex chars
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}

func checkHex(raw, part string, length int) error {
	if part == "" {
		return &InvalidIdentifierError{Raw: raw, Reason: "empty"}
	}
	if len(part) != length {
		return &InvalidIdentifierError{Raw: raw, Reason: fmt.Sprintf("expected %d characters, got %d", length, len(part))}
	}
	for _, c := range part {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return &InvalidIdentifierError{Raw: raw, Reason: fmt.Sprintf("illegal character %q", c)}
		}
	}
	return nil
}
