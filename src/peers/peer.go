package peers

import (
	"fmt"

	"github.com/rcenet/rce/src/identity"
)

// Peer is an entry of the neighbour list.
type Peer struct {
	NetAddr string
	Moniker string `json:",omitempty"`
	// Instance is the expected instance id of the node at NetAddr, if known.
	Instance string `json:",omitempty"`
}

// NewPeer creates a Peer.
func NewPeer(netAddr, moniker string) *Peer {
	return &Peer{
		NetAddr: netAddr,
		Moniker: moniker,
	}
}

// Validate checks that the peer has an address and, if set, a well-formed
// instance id.
func (p *Peer) Validate() error {
	if p.NetAddr == "" {
		return fmt.Errorf("peer %q without address", p.Moniker)
	}
	if p.Instance != "" {
		if _, err := identity.ParseInstanceNodeID(p.Instance); err != nil {
			return fmt.Errorf("peer %s: %w", p.NetAddr, err)
		}
	}
	return nil
}

// Accepts reports whether the node with the given session id may be the one
// described by the peer.
func (p *Peer) Accepts(node identity.InstanceNodeSessionID) bool {
	return p.Instance == "" || p.Instance == node.InstanceNodeID().RawID()
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, peer string) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.NetAddr != peer {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
