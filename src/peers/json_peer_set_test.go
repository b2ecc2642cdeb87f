package peers

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/rcenet/rce/src/identity"
)

func TestJSONPeerSet(t *testing.T) {
	// Create a test dir
	dir, err := ioutil.TempDir("", "rce")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	// Create the store
	store := NewJSONPeerSet(dir)

	// Try a read, should get nothing
	peerSet, err := store.PeerSet()
	if err == nil {
		t.Fatalf("store.PeerSet() should generate an error")
	}
	if peerSet != nil {
		t.Fatalf("peerSet: %v", peerSet)
	}

	instance := identity.NewInstanceNodeID()

	peers := []*Peer{}
	for i := 0; i < 3; i++ {
		peers = append(peers, NewPeer(fmt.Sprintf("addr%d", i), fmt.Sprintf("peer%d", i)))
	}
	peers[1].Instance = instance.RawID()

	if err := store.Write(peers); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should find 3 peers
	peerSet, err = store.PeerSet()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if peerSet.Len() != 3 {
		t.Fatalf("peers: %v", peerSet.Peers)
	}

	for i := 0; i < 3; i++ {
		if peerSet.Peers[i].NetAddr != peers[i].NetAddr {
			t.Fatalf("peers[%d] NetAddr should be %s, not %s", i,
				peers[i].NetAddr, peerSet.Peers[i].NetAddr)
		}
		if peerSet.Peers[i].Moniker != peers[i].Moniker {
			t.Fatalf("peers[%d] Moniker should be %s, not %s", i,
				peers[i].Moniker, peerSet.Peers[i].Moniker)
		}
	}

	if !peerSet.ByNetAddr["addr1"].Accepts(instance.NewSession()) {
		t.Fatalf("addr1 should accept a session of its instance")
	}
	if peerSet.ByNetAddr["addr1"].Accepts(identity.NewInstanceNodeID().NewSession()) {
		t.Fatalf("addr1 should refuse other instances")
	}
	if !peerSet.ByNetAddr["addr0"].Accepts(identity.NewInstanceNodeID().NewSession()) {
		t.Fatalf("addr0 has no expected instance")
	}
}

func TestPeerSetOperations(t *testing.T) {
	ps := NewPeerSet([]*Peer{NewPeer("a", ""), NewPeer("b", ""), NewPeer("a", "dup")})
	if ps.Len() != 2 {
		t.Fatalf("duplicate address should be ignored, got %v", ps.NetAddrs())
	}

	ps2 := ps.WithNewPeer(NewPeer("c", ""))
	if ps2.Len() != 3 || ps.Len() != 2 {
		t.Fatalf("WithNewPeer should not modify the original set")
	}

	ps3 := ps2.WithRemovedPeer("a")
	if got := ps3.NetAddrs(); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("unexpected peers %v", got)
	}
}

func TestInvalidPeersFile(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONPeerSet(dir)

	for _, content := range []string{
		`not json`,
		`[{"NetAddr": ""}]`,
		`[{"NetAddr": "a", "Instance": "nothex"}]`,
	} {
		if err := ioutil.WriteFile(filepath.Join(dir, "peers.json"), []byte(content), 0644); err != nil {
			t.Fatalf("err: %v", err)
		}
		if _, err := store.PeerSet(); err == nil {
			t.Fatalf("%s should be rejected", content)
		}
	}

	if err := ioutil.WriteFile(store.Path(), nil, 0644); err != nil {
		t.Fatalf("err: %v", err)
	}
	ps, err := store.PeerSet()
	if err != nil || ps.Len() != 0 {
		t.Fatalf("empty file should be an empty set: %v %v", ps, err)
	}
}
