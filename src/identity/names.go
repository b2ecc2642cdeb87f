package identity

import (
	"fmt"
	"sync"
)

const (
	unknownName = "<unknown>"
	unnamedName = "<unnamed>"
)

// Names is the process-wide display name table consulted by the String
// methods of the identifier types.
var Names = NewNameRegistry()

// NameRegistry maps instances to display names. Names are keyed by instance,
// so all sessions and logical ids of an instance share the same name.
type NameRegistry struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewNameRegistry creates an empty NameRegistry.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{
		names: make(map[string]string),
	}
}

// Bind associates a display name with an instance. An empty name records that
// the instance is known but unnamed.
func (r *NameRegistry) Bind(instance InstanceNodeID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[instance.raw] = name
}

// Unbind forgets the display name of an instance.
func (r *NameRegistry) Unbind(instance InstanceNodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.names, instance.raw)
}

// Lookup returns the display name of an instance, and whether a binding
// exists.
func (r *NameRegistry) Lookup(instance InstanceNodeID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[instance.raw]
	return name, ok
}

// DisplayName returns the name to show for an instance, falling back to
// <unknown> or <unnamed>.
func (r *NameRegistry) DisplayName(instance InstanceNodeID) string {
	name, ok := r.Lookup(instance)
	switch {
	case !ok:
		return unknownName
	case name == "":
		return unnamedName
	default:
		return name
	}
}

// Format renders a session id with the names of this registry.
func (r *NameRegistry) Format(s InstanceNodeSessionID) string {
	return r.format(s.InstanceNodeID().raw, s.raw)
}

func (r *NameRegistry) format(instance, raw string) string {
	return fmt.Sprintf("%q [%s]", r.DisplayName(InstanceNodeID{raw: instance}), raw)
}
