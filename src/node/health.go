package node

import (
	"context"
	"time"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/protocol"
	"github.com/rcenet/rce/src/version"
)

// Health is the answer to a health check.
type Health struct {
	Node     string `codec:"node"`
	Name     string `codec:"name"`
	Version  string `codec:"version"`
	Protocol uint8  `codec:"protocol"`
	State    string `codec:"state"`
	Channels int    `codec:"channels"`
	Uptime   string `codec:"uptime"`
}

func (n *Node) health() *Health {
	var uptime time.Duration
	if n.getState() == Running {
		uptime = time.Since(n.start).Round(time.Millisecond)
	}
	return &Health{
		Node:     n.id.RawID(),
		Name:     n.conf.Moniker,
		Version:  version.Version,
		Protocol: protocol.ProtocolVersion,
		State:    n.getState().String(),
		Channels: n.registry.Len(),
		Uptime:   uptime.String(),
	}
}

func (n *Node) handleHealthCheck(*protocol.NetworkRequest) ([]byte, error) {
	return protocol.EncodeJSON(n.health())
}

// CheckHealth asks dest for its name, version and state. Routing and
// transport failures are returned as *protocol.ResponseError.
func (n *Node) CheckHealth(ctx context.Context, dest identity.InstanceNodeSessionID) (*Health, error) {
	resp, err := n.messaging.PerformRoutedRequest([]byte{}, protocol.MessageTypeHealthCheck, dest).Await(ctx)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var h Health
	if err := protocol.DecodeJSON(resp.Content, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
