package rce

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/config"
	"github.com/rcenet/rce/src/net/broker"
	"github.com/rcenet/rce/src/peers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T, moniker string) *config.Config {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir(t.TempDir())
	conf.Moniker = moniker
	conf.BindAddr = "127.0.0.1:0"
	return conf
}

func newTestEngine(t *testing.T, conf *config.Config) *RCE {
	engine := NewRCE(conf)
	if err := engine.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}
	go engine.Run()
	t.Cleanup(engine.Shutdown)
	return engine
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	conf := newTestConfig(t, "bad")
	conf.Transport = "carrier-pigeon"

	engine := NewRCE(conf)
	if err := engine.Init(); err == nil {
		t.Fatalf("Init should fail with an unknown transport")
	}
}

func TestIdentityPersistence(t *testing.T) {
	conf := newTestConfig(t, "alice")
	conf.PersistIdentity = true

	first := NewRCE(conf)
	require.NoError(t, first.Init())
	firstID := first.ID
	first.Shutdown()

	// same data directory, no moniker: both are read back
	conf2 := newTestConfig(t, "")
	conf2.SetDataDir(conf.DataDir)
	conf2.PersistIdentity = true

	second := NewRCE(conf2)
	require.NoError(t, second.Init())
	defer second.Shutdown()

	assert.Equal(t, firstID.InstanceNodeID(), second.ID.InstanceNodeID())
	assert.NotEqual(t, firstID, second.ID)
	assert.Equal(t, "alice", second.Config.Moniker)
}

func TestTCPNeighbours(t *testing.T) {
	a := newTestEngine(t, newTestConfig(t, "a"))

	confB := newTestConfig(t, "b")
	require.NoError(t, peers.NewJSONPeerSet(confB.DataDir).Write([]*peers.Peer{
		peers.NewPeer(a.Transport.AdvertiseAddr(), "a"),
	}))
	b := newTestEngine(t, confB)
	assert.Equal(t, 1, b.Peers.Len())

	waitFor(t, "route from a to b", func() bool {
		_, err := a.Node.Routing().GetRouteTo(b.ID)
		return err == nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := b.Node.CheckHealth(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", h.Name)
}

func TestBrokerNeighbours(t *testing.T) {
	logger := common.NewTestEntry(t, common.TestLogLevel)

	server, err := broker.NewServer("127.0.0.1:0", config.DefaultBrokerRealm, "", "", logger)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go server.Serve(ln)
	t.Cleanup(server.Shutdown)

	newConf := func(moniker string) *config.Config {
		conf := newTestConfig(t, moniker)
		conf.Transport = config.TransportBroker
		conf.BrokerAddr = "ws://" + ln.Addr().String() + "/"
		return conf
	}

	a := newTestEngine(t, newConf("a"))

	confB := newConf("b")
	require.NoError(t, peers.NewJSONPeerSet(confB.DataDir).Write([]*peers.Peer{
		peers.NewPeer(broker.NodeAddress(a.ID), "a"),
	}))
	b := newTestEngine(t, confB)

	waitFor(t, "route from b to a", func() bool {
		_, err := b.Node.Routing().GetRouteTo(a.ID)
		return err == nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := a.Node.CheckHealth(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", h.Name)
}
