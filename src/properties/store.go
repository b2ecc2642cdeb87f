package properties

import (
	"sync"

	"github.com/rcenet/rce/src/identity"
)

// Store holds the latest known version of every property.
type Store struct {
	mu    sync.RWMutex
	props map[CompositeKey]NodeProperty
	// sequence of the removed properties of departed publishers
	tombstones map[CompositeKey]int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		props:      make(map[CompositeKey]NodeProperty),
		tombstones: make(map[CompositeKey]int64),
	}
}

// Merge applies a batch. An entry replaces the stored one only if its
// sequence is strictly greater. An entry of a removed property is discarded
// unless its sequence is greater than the removed one. The second return
// value counts the entries that were discarded.
func (s *Store) Merge(batch []NodeProperty) (ChangeSet, int) {
	return s.merge(batch, false)
}

// Restore is Merge for a complete copy of the store of a neighbour. Removed
// properties come back when the copy holds them at the removed sequence or
// later.
func (s *Store) Restore(batch []NodeProperty) (ChangeSet, int) {
	return s.merge(batch, true)
}

func (s *Store) merge(batch []NodeProperty, restore bool) (ChangeSet, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cs ChangeSet
	discarded := 0

	// Entries of the batch may supersede each other; only the final outcome
	// per key is reported.
	added := make(map[CompositeKey]NodeProperty)
	updated := make(map[CompositeKey]NodeProperty)

	for _, p := range batch {
		ck := p.CompositeKey()
		old, ok := s.props[ck]
		switch {
		case !ok && s.buried(ck, p.Sequence, restore):
			discarded++
		case !ok:
			delete(s.tombstones, ck)
			s.props[ck] = p
			added[ck] = p
		case p.supersedes(old):
			s.props[ck] = p
			if _, fresh := added[ck]; fresh {
				added[ck] = p
			} else {
				updated[ck] = p
			}
		default:
			discarded++
		}
	}

	for _, p := range added {
		cs.Added = append(cs.Added, p)
	}
	for _, p := range updated {
		cs.Updated = append(cs.Updated, p)
	}
	sortProperties(cs.Added)
	sortProperties(cs.Updated)

	return cs, discarded
}

// buried must be called with the lock held.
func (s *Store) buried(ck CompositeKey, sequence int64, restore bool) bool {
	tomb, ok := s.tombstones[ck]
	if !ok {
		return false
	}
	if restore {
		return sequence < tomb
	}
	return sequence <= tomb
}

// RemovePublishers deletes every property published by the given nodes.
// Their sequences are remembered so that gossip still in flight does not
// bring them back.
func (s *Store) RemovePublishers(publishers []identity.InstanceNodeSessionID) ChangeSet {
	if len(publishers) == 0 {
		return ChangeSet{}
	}

	gone := make(map[identity.InstanceNodeSessionID]struct{}, len(publishers))
	for _, p := range publishers {
		gone[p] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var cs ChangeSet
	for ck, p := range s.props {
		if _, ok := gone[ck.Publisher]; ok {
			cs.Removed = append(cs.Removed, p)
			delete(s.props, ck)
			s.tombstones[ck] = p.Sequence
		}
	}
	sortProperties(cs.Removed)
	return cs
}

// Get returns the property published by publisher under key.
func (s *Store) Get(publisher identity.InstanceNodeSessionID, key string) (NodeProperty, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.props[CompositeKey{Publisher: publisher, Key: key}]
	return p, ok
}

// ByKey returns the properties published under key by any node, ordered by
// publisher. An empty key returns all properties.
func (s *Store) ByKey(key string) []NodeProperty {
	s.mu.RLock()
	res := make([]NodeProperty, 0, len(s.props))
	for ck, p := range s.props {
		if key == "" || ck.Key == key {
			res = append(res, p)
		}
	}
	s.mu.RUnlock()

	sortProperties(res)
	return res
}

// Snapshot returns all properties, ordered by publisher then key.
func (s *Store) Snapshot() []NodeProperty {
	return s.ByKey("")
}

// Publishers returns the nodes that have at least one property.
func (s *Store) Publishers() []identity.InstanceNodeSessionID {
	s.mu.RLock()
	seen := make(map[identity.InstanceNodeSessionID]struct{})
	for ck := range s.props {
		seen[ck.Publisher] = struct{}{}
	}
	s.mu.RUnlock()

	res := make([]identity.InstanceNodeSessionID, 0, len(seen))
	for p := range seen {
		res = append(res, p)
	}
	return res
}

// Len returns the number of stored properties.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.props)
}
