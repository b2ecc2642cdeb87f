package routing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/metrics"
	"github.com/rcenet/rce/src/net"
	"github.com/rcenet/rce/src/properties"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// State is the state of the routing protocol.
type State uint32

const (
	// Uninitialized is the state before Start.
	Uninitialized State = iota
	// Discovering means that the topology changed recently.
	Discovering
	// Converged means that the topology was stable for a quiet period.
	Converged
	// Stopped is the state after Stop.
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Discovering:
		return "Discovering"
	case Converged:
		return "Converged"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Config holds the tunables of the routing service.
type Config struct {
	// QuietPeriod without topology change after which the protocol is
	// Converged.
	QuietPeriod time.Duration
	// PublishInterval is the minimum delay between two link state
	// advertisements of the local node.
	PublishInterval time.Duration
	// TieBreak orders routes of equal cost and length.
	TieBreak TieBreak
	// DepartureGrace is how long the properties of a node that was never
	// reachable are kept. Nodes that become unreachable are forgotten at
	// once.
	DepartureGrace time.Duration
}

// DefaultConfig returns the default routing configuration.
func DefaultConfig() Config {
	return Config{
		QuietPeriod:     2 * time.Second,
		PublishInterval: 200 * time.Millisecond,
		TieBreak:        TieBreakFirstHopChannel,
		DepartureGrace:  2 * time.Second,
	}
}

type snapshot struct {
	raw       *NetworkGraph
	reachable *NetworkGraph
}

// Service runs the link-state protocol of the local node.
type Service struct {
	local    identity.InstanceNodeSessionID
	props    *properties.Service
	registry *net.Registry
	conf     Config

	graph atomic.Value // *snapshot
	state uint32

	rebuildLock sync.Mutex
	fingerprint string
	quietTimer  *time.Timer
	// publishers with properties but no route, since when
	unreachable  map[identity.InstanceNodeSessionID]time.Time
	sweepTimer   *time.Timer
	sweepPending bool

	limiter   *rate.Limiter
	publishCh chan struct{}
	sub       *properties.Subscription
	ctx       context.Context
	cancel    context.CancelFunc

	metrics *metrics.Collector
	logger  *logrus.Entry
}

// NewService creates the routing service of a node. Links are read from the
// registry and advertised through the property service.
func NewService(
	local identity.InstanceNodeSessionID,
	props *properties.Service,
	registry *net.Registry,
	conf Config,
	collector *metrics.Collector,
	logger *logrus.Entry,
) *Service {
	if conf.TieBreak == "" {
		conf.TieBreak = TieBreakFirstHopChannel
	}
	if conf.DepartureGrace <= 0 {
		conf.DepartureGrace = DefaultConfig().DepartureGrace
	}

	limit := rate.Inf
	if conf.PublishInterval > 0 {
		limit = rate.Every(conf.PublishInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		local:       local,
		props:       props,
		registry:    registry,
		conf:        conf,
		limiter:     rate.NewLimiter(limit, 1),
		publishCh:   make(chan struct{}, 1),
		unreachable: make(map[identity.InstanceNodeSessionID]time.Time),
		ctx:         ctx,
		cancel:      cancel,
		metrics:     collector,
		logger:      logger,
	}

	empty := NewNetworkGraph(local, nil)
	s.graph.Store(&snapshot{raw: empty, reachable: empty})

	return s
}

// Start subscribes to link state advertisements and advertises the links of
// the local node.
func (s *Service) Start() {
	if !atomic.CompareAndSwapUint32(&s.state, uint32(Uninitialized), uint32(Discovering)) {
		return
	}

	_, s.sub = s.props.Subscribe("", func(cs properties.ChangeSet) {
		if s.affectsGraph(cs) {
			s.rebuild()
		}
	})

	s.registry.AddListener(func(net.RegistryEvent) {
		s.schedulePublish()
	})

	go s.publishLoop()

	s.schedulePublish()
	s.rebuild()
}

// Stop ends the protocol. Snapshots remain readable.
func (s *Service) Stop() {
	if atomic.SwapUint32(&s.state, uint32(Stopped)) == uint32(Stopped) {
		return
	}
	s.cancel()
	if s.sub != nil {
		s.sub.Cancel()
	}

	s.rebuildLock.Lock()
	if s.quietTimer != nil {
		s.quietTimer.Stop()
	}
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
	}
	s.rebuildLock.Unlock()
}

// State returns the current protocol state.
func (s *Service) State() State {
	return State(atomic.LoadUint32(&s.state))
}

// RawGraph returns the latest graph of all advertised links.
func (s *Service) RawGraph() *NetworkGraph {
	return s.graph.Load().(*snapshot).raw
}

// ReachableGraph returns the part of the latest graph that is reachable from
// the local node.
func (s *Service) ReachableGraph() *NetworkGraph {
	return s.graph.Load().(*snapshot).reachable
}

// GetRouteTo computes the route to dest on the latest reachable graph.
func (s *Service) GetRouteTo(dest identity.InstanceNodeSessionID) (Route, error) {
	return s.ReachableGraph().ShortestRoute(dest, s.conf.TieBreak)
}

// LocalLinks returns the links of the local node, one per registered channel.
func (s *Service) LocalLinks() []Link {
	channels := s.registry.Channels()
	links := make([]Link, 0, len(channels))
	for _, ch := range channels {
		links = append(links, Link{
			ChannelID: ch.ChannelID(),
			Node:      ch.RemoteNodeID().RawID(),
			Weight:    DefaultLinkWeight,
		})
	}
	return links
}

func (s *Service) schedulePublish() {
	select {
	case s.publishCh <- struct{}{}:
	default:
	}
}

func (s *Service) publishLoop() {
	var last string
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.publishCh:
		}

		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}

		value, err := EncodeLSA(s.LocalLinks())
		if err != nil {
			s.logger.WithError(err).Error("Failed to encode link state advertisement")
			continue
		}
		if value == last {
			continue
		}
		last = value

		s.logger.WithField("lsa", value).Debug("Publishing link state advertisement")
		s.props.Publish(LSAPropertyKey, value)
	}
}

// rebuild recomputes the graph from all advertisements in the property
// store.
func (s *Service) rebuild() {
	s.rebuildLock.Lock()
	defer s.rebuildLock.Unlock()

	if s.State() == Stopped {
		return
	}

	lsas := make(map[identity.InstanceNodeSessionID][]Link)
	for _, p := range s.props.Store().ByKey(LSAPropertyKey) {
		links, err := DecodeLSA(p.Value)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"publisher": p.Publisher.RawID(),
				"error":     err,
			}).Warn("Ignoring malformed link state advertisement")
			continue
		}
		lsas[p.Publisher] = links
	}

	raw := NewNetworkGraph(s.local, lsas)
	reachable := raw.Reachable()

	prev := s.graph.Load().(*snapshot)
	s.graph.Store(&snapshot{raw: raw, reachable: reachable})
	s.metrics.RecordGraphRebuild(reachable.Len())

	if fp := reachable.Fingerprint(); fp != s.fingerprint {
		s.fingerprint = fp
		s.topologyChanged()
	}

	departed := s.departed(prev.reachable, reachable)
	if len(departed) > 0 {
		s.logger.WithField("count", len(departed)).Debug("Nodes became unreachable")
		go s.props.RemovePublishers(departed)
	}
}

// affectsGraph reports whether a property change requires a rebuild: a
// link state advertisement changed, or a node without a route published
// something.
func (s *Service) affectsGraph(cs properties.ChangeSet) bool {
	if !cs.Filter(LSAPropertyKey).IsEmpty() {
		return true
	}
	reachable := s.ReachableGraph()
	for _, p := range cs.Added {
		if !reachable.Contains(p.Publisher) {
			return true
		}
	}
	return false
}

// departed returns the publishers whose properties must be removed. Nodes
// that were reachable and are not anymore have left the network. Publishers
// that never were reachable get DepartureGrace to advertise their links.
// It must be called with rebuildLock held.
func (s *Service) departed(prev, reachable *NetworkGraph) []identity.InstanceNodeSessionID {
	now := time.Now()
	publishers := s.props.Store().Publishers()

	var res []identity.InstanceNodeSessionID
	present := make(map[identity.InstanceNodeSessionID]struct{}, len(publishers))
	for _, p := range publishers {
		present[p] = struct{}{}
		if p == s.local || reachable.Contains(p) {
			delete(s.unreachable, p)
			continue
		}
		if prev.Contains(p) {
			delete(s.unreachable, p)
			res = append(res, p)
			continue
		}
		since, ok := s.unreachable[p]
		if !ok {
			s.unreachable[p] = now
			s.scheduleSweep()
			continue
		}
		if now.Sub(since) >= s.conf.DepartureGrace {
			delete(s.unreachable, p)
			res = append(res, p)
			continue
		}
		s.scheduleSweep()
	}

	for p := range s.unreachable {
		if _, ok := present[p]; !ok {
			delete(s.unreachable, p)
		}
	}
	return res
}

// scheduleSweep arranges for a rebuild once the grace of unreachable
// publishers may have expired. It must be called with rebuildLock held.
func (s *Service) scheduleSweep() {
	if s.sweepPending {
		return
	}
	s.sweepPending = true
	if s.sweepTimer == nil {
		s.sweepTimer = time.AfterFunc(s.conf.DepartureGrace, s.sweep)
		return
	}
	s.sweepTimer.Reset(s.conf.DepartureGrace)
}

func (s *Service) sweep() {
	s.rebuildLock.Lock()
	s.sweepPending = false
	s.rebuildLock.Unlock()
	s.rebuild()
}

// topologyChanged must be called with rebuildLock held.
func (s *Service) topologyChanged() {
	if !atomic.CompareAndSwapUint32(&s.state, uint32(Converged), uint32(Discovering)) && s.State() != Discovering {
		return
	}

	if s.quietTimer == nil {
		s.quietTimer = time.AfterFunc(s.conf.QuietPeriod, s.converge)
		return
	}
	s.quietTimer.Stop()
	s.quietTimer.Reset(s.conf.QuietPeriod)
}

func (s *Service) converge() {
	if atomic.CompareAndSwapUint32(&s.state, uint32(Discovering), uint32(Converged)) {
		s.logger.WithField("nodes", s.ReachableGraph().Len()).Debug("Routing converged")
	}
}
