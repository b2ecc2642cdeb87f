package node

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rcenet/rce/src/config"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/messaging"
	"github.com/rcenet/rce/src/metrics"
	"github.com/rcenet/rce/src/net"
	"github.com/rcenet/rce/src/peers"
	"github.com/rcenet/rce/src/properties"
	"github.com/rcenet/rce/src/protocol"
	"github.com/rcenet/rce/src/routing"
	"github.com/rcenet/rce/src/rpc"
	"github.com/rcenet/rce/src/version"
	"github.com/sirupsen/logrus"
)

// Properties published by every node.
const (
	PropertyName    = "name"
	PropertyVersion = "version"
	PropertyAddress = "addr"
)

// Node is a platform node: the channels to its neighbours and the services
// running on top of them.
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	id    identity.InstanceNodeSessionID
	peers *peers.PeerSet

	trans   net.Transport
	netCh   <-chan net.RPC
	eventCh <-chan net.ChannelEvent

	registry   *net.Registry
	properties *properties.Service
	routing    *routing.Service
	messaging  *messaging.Service
	schema     *protocol.Schema
	rpcServer  *rpc.Server
	callbacks  *rpc.CallbackService
	metrics    *metrics.Collector

	nameSub *properties.Subscription

	// neighbourLock guards the fields below
	neighbourLock sync.Mutex
	// heartbeat failures in a row, per channel id
	failures map[string]int
	// channel id of the connected peers, per address
	peerChannels map[string]string
	// addresses being connected to
	connecting    map[string]bool
	lastReconnect time.Time

	shutdownCh   chan struct{}
	controlTimer *ControlTimer

	start time.Time
}

// NewNode wires the components of a node on top of a transport. Nothing runs
// until Init and Run are called.
func NewNode(
	conf *config.Config,
	id identity.InstanceNodeSessionID,
	peerSet *peers.PeerSet,
	trans net.Transport,
	collector *metrics.Collector,
) *Node {
	logger := conf.Logger().WithField("this_id", id.RawID())

	if peerSet == nil {
		peerSet = peers.NewPeerSet(nil)
	}

	registry := net.NewRegistry(logger.WithField("component", "registry"))

	props := properties.NewService(
		id,
		registry,
		conf.RequestTimeout,
		collector,
		logger.WithField("component", "properties"),
	)

	router := routing.NewService(
		id,
		props,
		registry,
		conf.RoutingConfig(),
		collector,
		logger.WithField("component", "routing"),
	)

	msg := messaging.NewService(
		id,
		registry,
		router,
		conf.MessagingConfig(),
		collector,
		logger.WithField("component", "messaging"),
	)

	schema := protocol.NewSchema()
	if err := rpc.RegisterTypes(schema); err != nil {
		// the schema is fresh, so this can only be a programming error
		panic(err)
	}

	node := Node{
		conf:         conf,
		logger:       logger,
		id:           id,
		peers:        peerSet,
		trans:        trans,
		netCh:        trans.Consumer(),
		eventCh:      trans.Events(),
		registry:     registry,
		properties:   props,
		routing:      router,
		messaging:    msg,
		schema:       schema,
		rpcServer:    rpc.NewServer(schema, logger.WithField("component", "rpc")),
		callbacks:    rpc.NewCallbackService(id, conf.CallbackTTL, collector, logger.WithField("component", "callbacks")),
		metrics:      collector,
		failures:     make(map[string]int),
		peerChannels: make(map[string]string),
		connecting:   make(map[string]bool),
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
	}

	return &node
}

// Init registers the request handlers, publishes the properties of the node
// and starts listening.
func (n *Node) Init() error {
	n.start = time.Now()
	n.rpcServer.Register(rpc.CallbackServiceName, n.callbacks.Methods())

	handlers := map[protocol.MessageType]messaging.RequestHandler{
		protocol.MessageTypePropertyGossip: n.properties.HandleGossip,
		protocol.MessageTypeHeartbeat:      handleHeartbeat,
		protocol.MessageTypeHealthCheck:    n.handleHealthCheck,
		protocol.MessageTypeRPC:            n.rpcServer.Handle,
	}
	for t, h := range handlers {
		if err := n.messaging.RegisterRequestHandler(t, h); err != nil {
			return err
		}
	}

	n.registry.AddListener(func(ev net.RegistryEvent) {
		if ev.Added {
			n.properties.OnChannelAdded(ev.Channel)
		} else {
			n.forgetChannel(ev.Channel.ChannelID())
		}
		n.metrics.SetOpenChannels(n.registry.Len())
	})

	snapshot, sub := n.properties.Subscribe(PropertyName, func(cs properties.ChangeSet) {
		bindNames(cs.Modified())
	})
	n.nameSub = sub
	bindNames(snapshot)

	identity.Names.Bind(n.id.InstanceNodeID(), n.conf.Moniker)
	n.properties.PublishAll(map[string]string{
		PropertyName:    n.conf.Moniker,
		PropertyVersion: version.Version,
		PropertyAddress: n.trans.AdvertiseAddr(),
	})

	n.trans.Listen()
	n.routing.Start()

	n.logger.WithFields(logrus.Fields{
		"name":       n.conf.Moniker,
		"addr":       n.trans.AdvertiseAddr(),
		"neighbours": n.peers.Len(),
	}).Info("Node initialized")

	return nil
}

func bindNames(props []properties.NodeProperty) {
	for _, p := range props {
		identity.Names.Bind(p.Publisher.InstanceNodeID(), p.Value)
	}
}

// RunAsync runs the node in a separate goroutine.
func (n *Node) RunAsync() {
	n.logger.Debug("RunAsync")
	go n.Run()
}

// Run serves incoming requests and channel events, and maintains the
// channels to the neighbours until Shutdown.
func (n *Node) Run() {
	if n.getState() != Starting {
		return
	}
	n.setState(Running)

	go n.controlTimer.Run(n.conf.HeartbeatInterval)
	go n.doBackgroundWork()

	n.reconnect()

	for {
		select {
		case <-n.controlTimer.tickCh:
			n.heartbeat()
			if time.Since(n.lastReconnect) >= n.conf.ReconnectInterval {
				n.reconnect()
			}
			n.sweepCallbacks()
			n.logStats()
			n.controlTimer.Reset(n.conf.HeartbeatInterval)
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case rpc := <-n.netCh:
			n.messaging.HandleIncoming(rpc)
		case ev := <-n.eventCh:
			n.processChannelEvent(ev)
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) processChannelEvent(ev net.ChannelEvent) {
	n.logger.WithFields(logrus.Fields{
		"event":   ev.Type.String(),
		"channel": ev.Channel.ChannelID(),
		"remote":  ev.Channel.RemoteNodeID().String(),
	}).Debug("Channel event")

	switch ev.Type {
	case net.ChannelOpened:
		n.registry.Add(ev.Channel)
	case net.ChannelDown:
		n.registry.Remove(ev.Channel.ChannelID())
	}
}

func (n *Node) sweepCallbacks() {
	if expired := n.callbacks.Sweep(time.Now()); len(expired) > 0 {
		n.logger.WithField("objects", expired).Debug("Expired callback bindings")
	}
}

// Shutdown stops the node and closes its channels and transport.
func (n *Node) Shutdown() {
	if n.getState() == Shutdown {
		return
	}
	n.logger.Debug("Shutdown")

	n.setState(Shutdown)

	//Stop and wait for concurrent operations
	close(n.shutdownCh)
	n.controlTimer.Shutdown()
	n.routing.Stop()
	if n.nameSub != nil {
		n.nameSub.Cancel()
	}

	n.waitRoutines()

	n.registry.Close()
	if err := n.trans.Close(); err != nil {
		n.logger.WithError(err).Debug("Error closing transport")
	}
}

// GetStats returns a summary of the state of the node.
func (n *Node) GetStats() map[string]string {
	var uptime time.Duration
	if !n.start.IsZero() {
		uptime = time.Since(n.start).Round(time.Second)
	}

	s := map[string]string{
		"id":                n.id.RawID(),
		"moniker":           n.conf.Moniker,
		"state":             n.getState().String(),
		"routing_state":     n.routing.State().String(),
		"addr":              n.trans.AdvertiseAddr(),
		"channels":          strconv.Itoa(n.registry.Len()),
		"known_nodes":       strconv.Itoa(n.routing.RawGraph().Len()),
		"reachable_nodes":   strconv.Itoa(n.routing.ReachableGraph().Len()),
		"properties":        strconv.Itoa(n.properties.Store().Len()),
		"publishers":        strconv.Itoa(len(n.properties.Store().Publishers())),
		"callback_bindings": strconv.Itoa(n.callbacks.Len()),
		"uptime":            uptime.String(),
		"version":           version.Version,
		"protocol":          fmt.Sprint(protocol.ProtocolVersion),
	}
	return s
}

func (n *Node) logStats() {
	if !n.logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	fields := logrus.Fields{}
	for k, v := range n.GetStats() {
		fields[k] = v
	}
	n.logger.WithFields(fields).Debug("Stats")
}

// ID returns the session id of the node.
func (n *Node) ID() identity.InstanceNodeSessionID {
	return n.id
}

// State returns the state of the node.
func (n *Node) State() State {
	return n.getState()
}

// Moniker returns the display name of the node.
func (n *Node) Moniker() string {
	return n.conf.Moniker
}

// Transport returns the transport of the node.
func (n *Node) Transport() net.Transport {
	return n.trans
}

// Registry returns the established channels of the node.
func (n *Node) Registry() *net.Registry {
	return n.registry
}

// Properties returns the property service.
func (n *Node) Properties() *properties.Service {
	return n.properties
}

// Routing returns the routing service.
func (n *Node) Routing() *routing.Service {
	return n.routing
}

// Messaging returns the messaging service.
func (n *Node) Messaging() *messaging.Service {
	return n.messaging
}

// Schema returns the payload schema of RPC arguments and results.
func (n *Node) Schema() *protocol.Schema {
	return n.schema
}

// Callbacks returns the callback service.
func (n *Node) Callbacks() *rpc.CallbackService {
	return n.callbacks
}

// Metrics returns the metrics collector. It may be nil.
func (n *Node) Metrics() *metrics.Collector {
	return n.metrics
}

// GetPeers returns the configured neighbours.
func (n *Node) GetPeers() []*peers.Peer {
	return n.peers.Peers
}

// RegisterService exposes a method table to remote nodes under name.
func (n *Node) RegisterService(name string, table rpc.MethodTable) {
	n.rpcServer.Register(name, table)
}

// Client returns a stub calling the methods of service on dest.
func (n *Node) Client(dest identity.InstanceNodeSessionID, service string) *rpc.Client {
	return rpc.NewClient(n.messaging, n.schema, dest, service)
}

// CallbackProxy returns a proxy for a callback reference received from
// another node.
func (n *Node) CallbackProxy(ref rpc.CallbackReference) (*rpc.CallbackProxy, error) {
	return rpc.ProxyFor(n.messaging, n.schema, ref)
}
