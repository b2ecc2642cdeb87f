package rce

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/config"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/metrics"
	"github.com/rcenet/rce/src/net"
	"github.com/rcenet/rce/src/net/broker"
	"github.com/rcenet/rce/src/node"
	"github.com/rcenet/rce/src/peers"
	"github.com/rcenet/rce/src/service"
	"github.com/sirupsen/logrus"
)

// brokerDialTimeout bounds the opening of the session with the message broker.
const brokerDialTimeout = 10 * time.Second

// RCE is the engine of a node: it loads the identity and the neighbours from
// the data directory, opens the transport and runs the node with its
// introspection service.
type RCE struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Identity  identity.Store
	ID        identity.InstanceNodeSessionID
	Peers     *peers.PeerSet
	Service   *service.Service
	Metrics   *metrics.Collector

	// session with the broker shared by the webrtc signal and transport
	brokerClient *client.Client

	logger *logrus.Entry
}

// NewRCE is a factory method to produce an RCE instance.
func NewRCE(c *config.Config) *RCE {
	engine := &RCE{
		Config: c,
		logger: c.Logger(),
	}

	return engine
}

// Init initialises the RCE object. It does not start the node.
func (r *RCE) Init() error {
	r.logger.Debug("validateConfig")
	if err := r.Config.Validate(); err != nil {
		r.logger.WithError(err).Error("rce.go:Init() validateConfig")
		return err
	}

	r.logger.Debug("initIdentity")
	if err := r.initIdentity(); err != nil {
		r.logger.WithError(err).Error("rce.go:Init() initIdentity")
		return err
	}

	r.logger.Debug("initPeers")
	if err := r.initPeers(); err != nil {
		r.logger.WithError(err).Error("rce.go:Init() initPeers")
		return err
	}

	r.logger.Debug("initTransport")
	if err := r.initTransport(); err != nil {
		r.logger.WithError(err).Error("rce.go:Init() initTransport")
		return err
	}

	r.logger.Debug("initNode")
	if err := r.initNode(); err != nil {
		r.logger.WithError(err).Error("rce.go:Init() initNode")
		return err
	}

	r.logger.Debug("initService")
	if err := r.initService(); err != nil {
		r.logger.WithError(err).Error("rce.go:Init() initService")
		return err
	}

	return nil
}

// Run starts the service and runs the node. It blocks until Shutdown.
func (r *RCE) Run() {
	if r.Service != nil {
		go r.Service.Serve()
	}

	r.Node.Run()
}

// Shutdown stops the node, the service and closes the identity store.
func (r *RCE) Shutdown() {
	if r.Service != nil {
		r.Service.Shutdown()
	}

	if r.Node != nil {
		r.Node.Shutdown()
	} else if r.Transport != nil {
		r.Transport.Close()
	}

	if r.brokerClient != nil {
		if err := r.brokerClient.Close(); err != nil {
			r.logger.WithError(err).Debug("Error closing broker session")
		}
	}

	if r.Identity != nil {
		if err := r.Identity.Close(); err != nil {
			r.logger.WithError(err).Error("Error closing identity store")
		}
	}
}

func (r *RCE) initIdentity() error {
	if r.Config.PersistIdentity {
		if err := os.MkdirAll(r.Config.DataDir, 0700); err != nil {
			return err
		}

		r.logger.WithField("path", r.Config.IdentityDir()).Debug("Loading or creating identity database")

		store, err := identity.NewBadgerStore(r.Config.IdentityDir())
		if err != nil {
			return err
		}
		r.Identity = store
	} else {
		r.Identity = identity.NewInmemStore()
	}

	instance, err := r.Identity.InstanceNodeID()
	if err != nil {
		return err
	}
	r.ID = instance.NewSession()

	name, err := r.Identity.DisplayName()
	if err != nil && !common.Is(err, common.KeyNotFound) {
		return err
	}
	if r.Config.Moniker != "" {
		if err := r.Identity.SetDisplayName(r.Config.Moniker); err != nil {
			return err
		}
	} else {
		r.Config.Moniker = name
	}

	identity.Names.Bind(instance, r.Config.Moniker)

	r.logger = r.logger.WithField("this_id", r.ID.RawID())
	r.logger.WithFields(logrus.Fields{
		"instance": instance.RawID(),
		"moniker":  r.Config.Moniker,
	}).Info("Node identity")

	return nil
}

func (r *RCE) initPeers() error {
	if r.Config.DataDir == "" {
		r.Peers = peers.NewPeerSet(nil)
		return nil
	}

	peerStore := peers.NewJSONPeerSet(r.Config.DataDir)

	participants, err := peerStore.PeerSet()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		r.logger.WithField("path", peerStore.Path()).Debug("No peers file, starting without neighbours")
		participants = peers.NewPeerSet(nil)
	}

	r.Peers = participants

	return nil
}

func (r *RCE) brokerConfig() broker.Config {
	return broker.Config{
		URL:                r.Config.BrokerAddr,
		Realm:              r.Config.BrokerRealm,
		CAFile:             r.Config.CertFile(),
		InsecureSkipVerify: r.Config.BrokerSkipVerify,
		ResponseTimeout:    r.Config.TCPTimeout,
	}
}

func (r *RCE) initTransport() error {
	logger := r.logger.WithField("component", "transport")

	switch r.Config.Transport {
	case config.TransportTCP:
		trans, err := net.NewTCPTransport(
			r.Config.BindAddr,
			r.Config.AdvertiseAddr,
			r.ID,
			r.Config.TCPTimeout,
			logger,
		)
		if err != nil {
			return err
		}
		r.Transport = trans

	case config.TransportBroker:
		ctx, cancel := context.WithTimeout(context.Background(), brokerDialTimeout)
		defer cancel()

		trans, err := broker.NewTransport(ctx, r.brokerConfig(), r.ID, logger)
		if err != nil {
			return err
		}
		r.Transport = trans

	case config.TransportWebRTC:
		ctx, cancel := context.WithTimeout(context.Background(), brokerDialTimeout)
		defer cancel()

		cli, err := broker.Dial(ctx, r.brokerConfig(), logger)
		if err != nil {
			return err
		}
		r.brokerClient = cli

		signal := broker.NewSignal(cli, broker.NodeAddress(r.ID), r.Config.TCPTimeout, logger.WithField("component", "signal"))

		trans, err := net.NewWebRTCTransport(
			signal,
			r.Config.ICEServers(),
			r.ID,
			r.Config.TCPTimeout,
			logger,
		)
		if err != nil {
			return err
		}
		r.Transport = trans

	default:
		return fmt.Errorf("unknown transport %q", r.Config.Transport)
	}

	r.logger.WithFields(logrus.Fields{
		"transport": r.Config.Transport,
		"addr":      r.Transport.AdvertiseAddr(),
	}).Debug("Transport ready")

	return nil
}

func (r *RCE) initNode() error {
	r.Metrics = metrics.NewCollector("rce")

	r.Node = node.NewNode(
		r.Config,
		r.ID,
		r.Peers,
		r.Transport,
		r.Metrics,
	)

	if err := r.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	return nil
}

func (r *RCE) initService() error {
	if !r.Config.NoService {
		r.Service = service.NewService(r.Config.ServiceAddr, r.Node, r.logger.WithField("component", "service"))
	}
	return nil
}
