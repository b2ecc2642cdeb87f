package node

import (
	"time"

	"github.com/rcenet/rce/src/net"
	"github.com/rcenet/rce/src/peers"
	"github.com/rcenet/rce/src/protocol"
	"github.com/sirupsen/logrus"
)

func handleHeartbeat(*protocol.NetworkRequest) ([]byte, error) {
	return []byte{}, nil
}

// heartbeat sends a heartbeat on every established channel. A channel that
// fails HeartbeatFailures heartbeats in a row is removed from the registry,
// which closes it and fails its pending requests.
func (n *Node) heartbeat() {
	for _, ch := range n.registry.Channels() {
		req, err := protocol.CreateRequest([]byte{}, protocol.MessageTypeHeartbeat, n.id, ch.RemoteNodeID())
		if err != nil {
			n.logger.WithError(err).Error("Failed to create heartbeat")
			return
		}
		ch := ch
		ch.SendAsync(req, func(resp *protocol.NetworkResponse) {
			n.heartbeatDone(ch, resp)
		}, n.conf.HeartbeatInterval)
	}
}

func (n *Node) heartbeatDone(ch net.MessageChannel, resp *protocol.NetworkResponse) {
	id := ch.ChannelID()

	n.neighbourLock.Lock()
	if _, ok := n.registry.Get(id); !ok {
		n.neighbourLock.Unlock()
		return
	}
	if resp.IsSuccess() {
		delete(n.failures, id)
		n.neighbourLock.Unlock()
		return
	}
	n.failures[id]++
	count := n.failures[id]
	n.neighbourLock.Unlock()

	n.metrics.RecordHeartbeatFailure()

	logger := n.logger.WithFields(logrus.Fields{
		"channel":  id,
		"remote":   ch.RemoteNodeID().String(),
		"code":     resp.Code.String(),
		"failures": count,
	})

	if count < n.conf.HeartbeatFailures {
		logger.Debug("Heartbeat failed")
		return
	}

	logger.Warn("Closing unresponsive channel")
	n.registry.Remove(id)
}

// forgetChannel drops the bookkeeping of a channel leaving the registry, so
// that its peer is reconnected.
func (n *Node) forgetChannel(id string) {
	n.neighbourLock.Lock()
	defer n.neighbourLock.Unlock()

	delete(n.failures, id)
	for addr, chID := range n.peerChannels {
		if chID == id {
			delete(n.peerChannels, addr)
		}
	}
}

// reconnect opens a channel to every configured neighbour that is not
// connected, or being connected, already.
func (n *Node) reconnect() {
	n.neighbourLock.Lock()
	n.lastReconnect = time.Now()
	var targets []*peers.Peer
	for _, p := range n.peers.Peers {
		if p.NetAddr == n.trans.AdvertiseAddr() || p.NetAddr == n.trans.LocalAddr() {
			continue
		}
		if _, ok := n.peerChannels[p.NetAddr]; ok {
			continue
		}
		if n.connecting[p.NetAddr] {
			continue
		}
		n.connecting[p.NetAddr] = true
		targets = append(targets, p)
	}
	n.neighbourLock.Unlock()

	for _, p := range targets {
		p := p
		if !n.goFunc(func() { n.connect(p) }) {
			n.neighbourLock.Lock()
			delete(n.connecting, p.NetAddr)
			n.neighbourLock.Unlock()
		}
	}
}

func (n *Node) connect(p *peers.Peer) {
	defer func() {
		n.neighbourLock.Lock()
		delete(n.connecting, p.NetAddr)
		n.neighbourLock.Unlock()
	}()

	logger := n.logger.WithFields(logrus.Fields{
		"peer":    p.NetAddr,
		"moniker": p.Moniker,
	})

	ch, err := n.trans.Connect(p.NetAddr, n.conf.TCPTimeout)
	if err != nil {
		logger.WithError(err).Debug("Failed to connect to neighbour")
		return
	}

	if !p.Accepts(ch.RemoteNodeID()) {
		logger.WithField("remote", ch.RemoteNodeID().RawID()).Warn("Unexpected node at neighbour address")
		ch.Close()
		return
	}

	n.neighbourLock.Lock()
	n.peerChannels[p.NetAddr] = ch.ChannelID()
	n.neighbourLock.Unlock()

	n.registry.Add(ch)

	// the channel may have gone down before it was added
	if ch.State() != net.Established {
		n.registry.Remove(ch.ChannelID())
		n.forgetChannel(ch.ChannelID())
		return
	}

	logger.WithField("channel", ch.ChannelID()).Info("Connected to neighbour")
}
