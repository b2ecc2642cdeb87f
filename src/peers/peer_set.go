package peers

import (
	"bytes"
	"encoding/json"
)

// PeerSet is an immutable set of Peers, indexed by address.
type PeerSet struct {
	Peers     []*Peer          `json:"peers"`
	ByNetAddr map[string]*Peer `json:"-"`
}

// NewPeerSet creates a new PeerSet from a list of Peers. Later entries with
// the address of an earlier one are ignored.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByNetAddr: make(map[string]*Peer),
	}

	for _, peer := range peers {
		if _, ok := peerSet.ByNetAddr[peer.NetAddr]; ok {
			continue
		}
		peerSet.ByNetAddr[peer.NetAddr] = peer
		peerSet.Peers = append(peerSet.Peers, peer)
	}

	return peerSet
}

// NewPeerSetFromPeerSliceBytes creates a new PeerSet from a JSON list of
// peers.
func NewPeerSetFromPeerSliceBytes(peerSliceBytes []byte) (*PeerSet, error) {
	peers := []*Peer{}

	dec := json.NewDecoder(bytes.NewReader(peerSliceBytes))
	if err := dec.Decode(&peers); err != nil {
		return nil, err
	}

	for _, p := range peers {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	return NewPeerSet(peers), nil
}

// WithNewPeer returns a new PeerSet with a list of peers including the new one.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := append([]*Peer(nil), peerSet.Peers...)
	return NewPeerSet(append(peers, peer))
}

// WithRemovedPeer returns a new PeerSet with a list of peers excluding the
// one at the provided address.
func (peerSet *PeerSet) WithRemovedPeer(netAddr string) *PeerSet {
	_, peers := ExcludePeer(peerSet.Peers, netAddr)
	return NewPeerSet(peers)
}

// NetAddrs returns the addresses of the peers.
func (peerSet *PeerSet) NetAddrs() []string {
	res := make([]string, 0, len(peerSet.Peers))
	for _, peer := range peerSet.Peers {
		res = append(res, peer.NetAddr)
	}
	return res
}

// Len returns the number of Peers in the PeerSet.
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}

// Marshal encodes the list of peers in JSON.
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
