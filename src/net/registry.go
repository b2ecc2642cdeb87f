package net

import (
	"sort"
	"sync"

	"github.com/rcenet/rce/src/identity"
	"github.com/sirupsen/logrus"
)

// RegistryEvent describes a change of the Registry.
type RegistryEvent struct {
	Added   bool
	Channel MessageChannel
}

// RegistryListener is notified of registry changes, outside of the registry
// lock, in the goroutine that made the change.
type RegistryListener func(RegistryEvent)

// Registry owns the established channels of a node.
type Registry struct {
	mu        sync.RWMutex
	channels  map[string]MessageChannel
	listeners []RegistryListener

	logger *logrus.Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *logrus.Entry) *Registry {
	return &Registry{
		channels: make(map[string]MessageChannel),
		logger:   logger,
	}
}

// AddListener registers a listener for subsequent changes.
func (r *Registry) AddListener(l RegistryListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Add registers an established channel. It returns false if a channel with
// the same id is already registered, or if the channel is not established.
func (r *Registry) Add(ch MessageChannel) bool {
	if ch.State() != Established {
		return false
	}

	r.mu.Lock()
	if _, ok := r.channels[ch.ChannelID()]; ok {
		r.mu.Unlock()
		return false
	}
	r.channels[ch.ChannelID()] = ch
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"channel": ch.ChannelID(),
		"remote":  ch.RemoteNodeID().RawID(),
	}).Debug("Channel registered")

	for _, l := range listeners {
		l(RegistryEvent{Added: true, Channel: ch})
	}
	return true
}

// Remove unregisters and closes a channel. It returns false if no channel
// was registered under that id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	ch, ok := r.channels[id]
	delete(r.channels, id)
	listeners := r.listeners
	r.mu.Unlock()

	if !ok {
		return false
	}

	ch.Close()

	r.logger.WithFields(logrus.Fields{
		"channel": id,
		"remote":  ch.RemoteNodeID().RawID(),
	}).Debug("Channel removed")

	for _, l := range listeners {
		l(RegistryEvent{Added: false, Channel: ch})
	}
	return true
}

// Get returns the channel registered under id.
func (r *Registry) Get(id string) (MessageChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// ChannelTo returns an established channel to the given node. When several
// exist, the one with the smallest id is returned.
func (r *Registry) ChannelTo(node identity.InstanceNodeSessionID) (MessageChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best MessageChannel
	for id, ch := range r.channels {
		if ch.RemoteNodeID() != node || ch.State() != Established {
			continue
		}
		if best == nil || id < best.ChannelID() {
			best = ch
		}
	}
	return best, best != nil
}

// Channels returns the registered channels ordered by id.
func (r *Registry) Channels() []MessageChannel {
	r.mu.RLock()
	res := make([]MessageChannel, 0, len(r.channels))
	for _, ch := range r.channels {
		res = append(res, ch)
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ChannelID() < res[j].ChannelID() })
	return res
}

// Neighbours returns the distinct remote nodes of the registered channels,
// ordered by raw id.
func (r *Registry) Neighbours() []identity.InstanceNodeSessionID {
	r.mu.RLock()
	seen := make(map[identity.InstanceNodeSessionID]struct{})
	for _, ch := range r.channels {
		seen[ch.RemoteNodeID()] = struct{}{}
	}
	r.mu.RUnlock()

	res := make([]identity.InstanceNodeSessionID, 0, len(seen))
	for n := range seen {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].RawID() < res[j].RawID() })
	return res
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Close removes all channels.
func (r *Registry) Close() {
	for _, ch := range r.Channels() {
		r.Remove(ch.ChannelID())
	}
}
