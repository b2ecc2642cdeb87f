package properties

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/metrics"
	"github.com/rcenet/rce/src/net"
	"github.com/rcenet/rce/src/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Listener receives the changes of the properties it subscribed to.
// Listeners are called outside of any lock of the Service, possibly
// concurrently.
type Listener func(ChangeSet)

// Subscription is returned by Subscribe.
type Subscription struct {
	id       uint64
	key      string
	listener Listener
	service  *Service
}

// Cancel stops the notifications of the subscription.
func (s *Subscription) Cancel() {
	s.service.subsLock.Lock()
	defer s.service.subsLock.Unlock()
	delete(s.service.subs, s.id)
}

type wireProperty struct {
	Publisher string `codec:"p"`
	Key       string `codec:"k"`
	Value     string `codec:"v"`
	Sequence  int64  `codec:"s"`
}

// wireBatch is the content of a gossip message. Snapshot marks the complete
// store sent to a new neighbour.
type wireBatch struct {
	Snapshot   bool           `codec:"snap"`
	Properties []wireProperty `codec:"props"`
}

// Service publishes the properties of the local node and merges the ones
// received from neighbours.
type Service struct {
	local    identity.InstanceNodeSessionID
	store    *Store
	registry *net.Registry
	timeout  time.Duration

	sequence int64

	subs     map[uint64]*Subscription
	subsSeq  uint64
	subsLock sync.RWMutex

	metrics *metrics.Collector
	logger  *logrus.Entry
}

// NewService creates a Service. Gossip is sent on the channels of the
// registry, each request waiting at most timeout for its acknowledgement.
func NewService(
	local identity.InstanceNodeSessionID,
	registry *net.Registry,
	timeout time.Duration,
	collector *metrics.Collector,
	logger *logrus.Entry,
) *Service {
	return &Service{
		local:    local,
		store:    NewStore(),
		registry: registry,
		timeout:  timeout,
		subs:     make(map[uint64]*Subscription),
		metrics:  collector,
		logger:   logger,
	}
}

// Store returns the underlying store.
func (s *Service) Store() *Store {
	return s.store
}

// Publish publishes a single property of the local node.
func (s *Service) Publish(key string, value string) {
	s.PublishAll(map[string]string{key: value})
}

// PublishAll publishes several properties of the local node at once. Each
// gets a new sequence number.
func (s *Service) PublishAll(values map[string]string) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := make([]NodeProperty, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, NodeProperty{
			Publisher: s.local,
			Key:       k,
			Value:     values[k],
			Sequence:  atomic.AddInt64(&s.sequence, 1),
		})
	}

	cs, _ := s.store.Merge(batch)
	s.changed(cs, 0)
	s.flood(cs.Modified(), identity.InstanceNodeSessionID{})
}

// OnRawNodePropertiesAddedOrModified merges a batch received from a
// neighbour. The entries that changed the store are passed on to the other
// neighbours; the rest is dropped silently.
func (s *Service) OnRawNodePropertiesAddedOrModified(batch []NodeProperty, from identity.InstanceNodeSessionID) ChangeSet {
	return s.merge(batch, from, false)
}

// OnSnapshot merges the complete store of a neighbour. Unlike incremental
// gossip it may bring back the properties of removed publishers.
func (s *Service) OnSnapshot(batch []NodeProperty, from identity.InstanceNodeSessionID) ChangeSet {
	return s.merge(batch, from, true)
}

func (s *Service) merge(batch []NodeProperty, from identity.InstanceNodeSessionID, snapshot bool) ChangeSet {
	// Only the local node speaks for itself
	filtered := batch[:0:0]
	for _, p := range batch {
		if p.Publisher != s.local {
			filtered = append(filtered, p)
		}
	}

	merge := s.store.Merge
	if snapshot {
		merge = s.store.Restore
	}
	cs, discarded := merge(filtered)
	discarded += len(batch) - len(filtered)

	s.changed(cs, discarded)
	s.flood(cs.Modified(), from)

	return cs
}

// RemovePublishers forgets the properties of nodes that left the network.
func (s *Service) RemovePublishers(publishers []identity.InstanceNodeSessionID) ChangeSet {
	cs := s.store.RemovePublishers(publishers)
	if !cs.IsEmpty() {
		s.logger.WithField("count", len(cs.Removed)).Debug("Removed properties of departed nodes")
	}
	s.changed(cs, 0)
	return cs
}

// Subscribe registers a listener for the properties published under key, or
// for all properties if key is empty. The current matching properties are
// returned; changes made concurrently with the call may be reported both in
// the snapshot and to the listener.
func (s *Service) Subscribe(key string, listener Listener) ([]NodeProperty, *Subscription) {
	s.subsLock.Lock()
	s.subsSeq++
	sub := &Subscription{
		id:       s.subsSeq,
		key:      key,
		listener: listener,
		service:  s,
	}
	s.subs[sub.id] = sub
	s.subsLock.Unlock()

	return s.store.ByKey(key), sub
}

// HandleGossip is the request handler of property gossip messages.
func (s *Service) HandleGossip(req *protocol.NetworkRequest) ([]byte, error) {
	batch, snapshot, err := decodeBatch(req.Content)
	if err != nil {
		return nil, err
	}
	s.merge(batch, req.Sender, snapshot)
	return []byte{}, nil
}

// OnChannelAdded pushes the complete store to a new neighbour.
func (s *Service) OnChannelAdded(ch net.MessageChannel) {
	snapshot := s.store.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	go func() {
		if err := s.send(ch, snapshot, true); err != nil {
			s.logger.WithFields(logrus.Fields{
				"remote": ch.RemoteNodeID().RawID(),
				"error":  err,
			}).Debug("Failed to send property snapshot")
		}
	}()
}

func (s *Service) changed(cs ChangeSet, discarded int) {
	s.metrics.RecordPropertyChanges(len(cs.Added), len(cs.Updated), len(cs.Removed), discarded)

	if cs.IsEmpty() {
		return
	}

	s.subsLock.RLock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subsLock.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, sub := range subs {
		if filtered := cs.Filter(sub.key); !filtered.IsEmpty() {
			sub.listener(filtered)
		}
	}
}

// flood sends the batch to every neighbour except the one it came from.
func (s *Service) flood(batch []NodeProperty, from identity.InstanceNodeSessionID) {
	if len(batch) == 0 {
		return
	}

	var targets []net.MessageChannel
	for _, n := range s.registry.Neighbours() {
		if n == from {
			continue
		}
		if ch, ok := s.registry.ChannelTo(n); ok {
			targets = append(targets, ch)
		}
	}
	if len(targets) == 0 {
		return
	}

	go func() {
		var g errgroup.Group
		for _, ch := range targets {
			ch := ch
			g.Go(func() error {
				return s.send(ch, batch, false)
			})
		}
		if err := g.Wait(); err != nil {
			s.logger.WithError(err).Debug("Property gossip not delivered to all neighbours")
		}
	}()
}

func (s *Service) send(ch net.MessageChannel, batch []NodeProperty, snapshot bool) error {
	content, err := encodeBatch(batch, snapshot)
	if err != nil {
		return err
	}

	req, err := protocol.CreateRequest(content, protocol.MessageTypePropertyGossip, s.local, ch.RemoteNodeID())
	if err != nil {
		return err
	}

	resp := ch.SendBlocking(req, s.timeout)
	if err := resp.Err(); err != nil {
		return fmt.Errorf("gossip to %s: %w", ch.RemoteNodeID().RawID(), err)
	}
	return nil
}

func encodeBatch(batch []NodeProperty, snapshot bool) ([]byte, error) {
	wire := wireBatch{
		Snapshot:   snapshot,
		Properties: make([]wireProperty, len(batch)),
	}
	for i, p := range batch {
		wire.Properties[i] = wireProperty{
			Publisher: p.Publisher.RawID(),
			Key:       p.Key,
			Value:     p.Value,
			Sequence:  p.Sequence,
		}
	}
	return protocol.Encode(wire)
}

func decodeBatch(data []byte) ([]NodeProperty, bool, error) {
	var wire wireBatch
	if err := protocol.Decode(data, &wire); err != nil {
		return nil, false, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}

	batch := make([]NodeProperty, 0, len(wire.Properties))
	for _, w := range wire.Properties {
		publisher, err := identity.ParseInstanceNodeSessionID(w.Publisher)
		if err != nil {
			return nil, false, err
		}
		batch = append(batch, NodeProperty{
			Publisher: publisher,
			Key:       w.Key,
			Value:     w.Value,
			Sequence:  w.Sequence,
		})
	}
	return batch, wire.Snapshot, nil
}
