package properties

import (
	"fmt"
	"sort"

	"github.com/rcenet/rce/src/identity"
)

// NodeProperty is a value published by a node under a key.
type NodeProperty struct {
	Publisher identity.InstanceNodeSessionID
	Key       string
	Value     string
	Sequence  int64
}

// CompositeKey identifies a property independently of its value.
type CompositeKey struct {
	Publisher identity.InstanceNodeSessionID
	Key       string
}

// CompositeKey returns the (publisher, key) pair of the property.
func (p NodeProperty) CompositeKey() CompositeKey {
	return CompositeKey{Publisher: p.Publisher, Key: p.Key}
}

func (p NodeProperty) String() string {
	return fmt.Sprintf("%s/%s=%q@%d", p.Publisher.RawID(), p.Key, p.Value, p.Sequence)
}

// supersedes reports whether p replaces old in a store. A publisher never
// reuses a sequence number for different values; should it happen anyway the
// greater value wins, which keeps merging commutative.
func (p NodeProperty) supersedes(old NodeProperty) bool {
	if p.Sequence != old.Sequence {
		return p.Sequence > old.Sequence
	}
	return p.Value > old.Value
}

// ChangeSet is the net effect of an operation on a Store.
type ChangeSet struct {
	Added   []NodeProperty
	Updated []NodeProperty
	Removed []NodeProperty
}

// IsEmpty reports whether nothing changed.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Modified returns the added and updated properties, which are the ones to
// pass on to other nodes.
func (c ChangeSet) Modified() []NodeProperty {
	res := make([]NodeProperty, 0, len(c.Added)+len(c.Updated))
	res = append(res, c.Added...)
	res = append(res, c.Updated...)
	sortProperties(res)
	return res
}

// Filter returns the part of the change set concerning key. An empty key
// matches everything.
func (c ChangeSet) Filter(key string) ChangeSet {
	if key == "" {
		return c
	}
	match := func(props []NodeProperty) []NodeProperty {
		var res []NodeProperty
		for _, p := range props {
			if p.Key == key {
				res = append(res, p)
			}
		}
		return res
	}
	return ChangeSet{
		Added:   match(c.Added),
		Updated: match(c.Updated),
		Removed: match(c.Removed),
	}
}

func sortProperties(props []NodeProperty) {
	sort.Slice(props, func(i, j int) bool {
		a, b := props[i], props[j]
		if a.Publisher != b.Publisher {
			return a.Publisher.RawID() < b.Publisher.RawID()
		}
		return a.Key < b.Key
	})
}
