package properties

import (
	"sync"
	"testing"
	"time"

	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/net"
	"github.com/rcenet/rce/src/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	id        identity.InstanceNodeSessionID
	addr      string
	transport *net.InmemTransport
	registry  *net.Registry
	service   *Service
}

func newTestNode(t *testing.T) *testNode {
	logger := common.NewTestEntry(t, common.TestLogLevel)
	id := identity.NewInstanceNodeID().NewSession()
	addr, trans := net.NewInmemTransport("", id, logger)
	reg := net.NewRegistry(logger)

	n := &testNode{
		id:        id,
		addr:      addr,
		transport: trans,
		registry:  reg,
		service:   NewService(id, reg, time.Second, nil, logger),
	}

	reg.AddListener(func(ev net.RegistryEvent) {
		if ev.Added {
			n.service.OnChannelAdded(ev.Channel)
		}
	})

	go func() {
		for ev := range trans.Events() {
			if ev.Type == net.ChannelOpened {
				reg.Add(ev.Channel)
			} else {
				reg.Remove(ev.Channel.ChannelID())
			}
		}
	}()

	go func() {
		for rpc := range trans.Consumer() {
			if rpc.Request.MessageType != protocol.MessageTypePropertyGossip {
				rpc.Respond(nil, &protocol.UnsupportedMessageTypeError{Type: rpc.Request.MessageType})
				continue
			}
			_, err := n.service.HandleGossip(rpc.Request)
			rpc.Respond(nil, err)
		}
	}()

	t.Cleanup(func() { trans.Close() })
	return n
}

func link(t *testing.T, a, b *testNode) {
	a.transport.AddPeer(b.addr, b.transport)
	if _, err := a.transport.Connect(b.addr, time.Second); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestPublishSequence(t *testing.T) {
	n := newTestNode(t)

	n.service.Publish("name", "alpha")
	n.service.PublishAll(map[string]string{"name": "beta", "version": "1"})

	p, ok := n.service.Store().Get(n.id, "name")
	require.True(t, ok)
	assert.Equal(t, "beta", p.Value)

	v, ok := n.service.Store().Get(n.id, "version")
	require.True(t, ok)
	assert.Greater(t, p.Sequence, int64(1))
	assert.NotEqual(t, p.Sequence, v.Sequence, "every publication gets its own sequence")
}

func TestSubscribe(t *testing.T) {
	n := newTestNode(t)
	other := identity.NewInstanceNodeID().NewSession()

	n.service.Publish("name", "alpha")

	var mu sync.Mutex
	var changes []ChangeSet
	snapshot, sub := n.service.Subscribe("name", func(cs ChangeSet) {
		mu.Lock()
		changes = append(changes, cs)
		mu.Unlock()
	})

	require.Len(t, snapshot, 1)
	assert.Equal(t, "alpha", snapshot[0].Value)

	batch := []NodeProperty{
		{Publisher: other, Key: "name", Value: "remote", Sequence: 4},
		{Publisher: other, Key: "ignored", Value: "x", Sequence: 4},
	}
	cs := n.service.OnRawNodePropertiesAddedOrModified(batch, other)
	assert.Len(t, cs.Added, 2)

	// duplicates produce no notification
	cs = n.service.OnRawNodePropertiesAddedOrModified(batch, other)
	assert.True(t, cs.IsEmpty())

	n.service.RemovePublishers([]identity.InstanceNodeSessionID{other})

	mu.Lock()
	require.Len(t, changes, 2)
	assert.Len(t, changes[0].Added, 1, "only the subscribed key is reported")
	assert.Equal(t, "remote", changes[0].Added[0].Value)
	assert.Len(t, changes[1].Removed, 1)
	mu.Unlock()

	sub.Cancel()
	n.service.Publish("name", "gamma")

	mu.Lock()
	assert.Len(t, changes, 2, "no notification after Cancel")
	mu.Unlock()
}

func TestOwnPropertiesNotOverwritten(t *testing.T) {
	n := newTestNode(t)
	n.service.Publish("name", "mine")

	forged := []NodeProperty{{Publisher: n.id, Key: "name", Value: "forged", Sequence: 100}}
	cs := n.service.OnRawNodePropertiesAddedOrModified(forged, identity.NewInstanceNodeID().NewSession())

	assert.True(t, cs.IsEmpty())
	p, _ := n.service.Store().Get(n.id, "name")
	assert.Equal(t, "mine", p.Value)
}

func TestFlooding(t *testing.T) {
	// a - b - c
	a := newTestNode(t)
	b := newTestNode(t)
	c := newTestNode(t)

	link(t, a, b)
	link(t, b, c)

	waitFor(t, "channels", func() bool {
		return a.registry.Len() == 1 && b.registry.Len() == 2 && c.registry.Len() == 1
	})

	a.service.Publish("name", "alpha")

	waitFor(t, "propagation to c", func() bool {
		p, ok := c.service.Store().Get(a.id, "name")
		return ok && p.Value == "alpha"
	})

	a.service.Publish("name", "alpha2")

	waitFor(t, "update at c", func() bool {
		p, ok := c.service.Store().Get(a.id, "name")
		return ok && p.Value == "alpha2"
	})
}

func TestSnapshotToNewNeighbour(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	a.service.Publish("name", "alpha")
	b.service.Publish("name", "beta")

	link(t, a, b)

	waitFor(t, "anti-entropy", func() bool {
		_, okA := b.service.Store().Get(a.id, "name")
		_, okB := a.service.Store().Get(b.id, "name")
		return okA && okB
	})
}

func TestLateGossipAfterRemoval(t *testing.T) {
	n := newTestNode(t)
	departed := identity.NewInstanceNodeID().NewSession()
	batch := []NodeProperty{{Publisher: departed, Key: "name", Value: "gone", Sequence: 3}}

	n.service.OnRawNodePropertiesAddedOrModified(batch, departed)
	n.service.RemovePublishers([]identity.InstanceNodeSessionID{departed})

	var notified int
	_, sub := n.service.Subscribe("", func(ChangeSet) { notified++ })
	defer sub.Cancel()

	cs := n.service.OnRawNodePropertiesAddedOrModified(batch, identity.NewInstanceNodeID().NewSession())
	assert.True(t, cs.IsEmpty())
	assert.Equal(t, 0, notified)
	assert.Equal(t, 0, n.service.Store().Len())

	// a neighbour's complete store brings it back
	cs = n.service.OnSnapshot(batch, identity.NewInstanceNodeID().NewSession())
	assert.Len(t, cs.Added, 1)
	assert.Equal(t, 1, notified)
}
