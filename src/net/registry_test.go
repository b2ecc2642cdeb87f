package net

import (
	"sync"
	"testing"
	"time"

	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	sync.Mutex
	id     string
	remote identity.InstanceNodeSessionID
	state  ChannelState
}

func (f *fakeChannel) ChannelID() string                            { return f.id }
func (f *fakeChannel) RemoteNodeID() identity.InstanceNodeSessionID { return f.remote }

func (f *fakeChannel) State() ChannelState {
	f.Lock()
	defer f.Unlock()
	return f.state
}

func (f *fakeChannel) SendAsync(req *protocol.NetworkRequest, handler ResponseHandler, timeout time.Duration) {
	go handler(protocol.CreateResponseForRequest(req, nil))
}

func (f *fakeChannel) SendBlocking(req *protocol.NetworkRequest, timeout time.Duration) *protocol.NetworkResponse {
	return protocol.CreateResponseForRequest(req, nil)
}

func (f *fakeChannel) Close() error {
	f.Lock()
	defer f.Unlock()
	f.state = Closed
	return nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(common.NewTestEntry(t, common.TestLogLevel))

	var events []RegistryEvent
	reg.AddListener(func(ev RegistryEvent) {
		events = append(events, ev)
	})

	b := identity.NewInstanceNodeID().NewSession()
	c := identity.NewInstanceNodeID().NewSession()

	chB2 := &fakeChannel{id: "b2", remote: b, state: Established}
	chB1 := &fakeChannel{id: "b1", remote: b, state: Established}
	chC := &fakeChannel{id: "c", remote: c, state: Established}

	require.True(t, reg.Add(chB2))
	require.True(t, reg.Add(chB1))
	require.True(t, reg.Add(chC))
	assert.False(t, reg.Add(chC), "duplicate ids are refused")
	assert.False(t, reg.Add(&fakeChannel{id: "x", remote: c, state: Connecting}), "only established channels are registered")

	assert.Equal(t, 3, reg.Len())
	assert.Len(t, events, 3)

	got, ok := reg.ChannelTo(b)
	require.True(t, ok)
	assert.Equal(t, "b1", got.ChannelID(), "smallest channel id wins")

	ids := []string{}
	for _, ch := range reg.Channels() {
		ids = append(ids, ch.ChannelID())
	}
	assert.Equal(t, []string{"b1", "b2", "c"}, ids)
	assert.Len(t, reg.Neighbours(), 2)

	require.True(t, reg.Remove("b1"))
	assert.Equal(t, Closed, chB1.State(), "removed channels are closed")
	assert.False(t, reg.Remove("b1"))

	got, ok = reg.ChannelTo(b)
	require.True(t, ok)
	assert.Equal(t, "b2", got.ChannelID())

	last := events[len(events)-1]
	assert.False(t, last.Added)
	assert.Equal(t, "b1", last.Channel.ChannelID())

	reg.Close()
	assert.Equal(t, 0, reg.Len())
	_, ok = reg.ChannelTo(c)
	assert.False(t, ok)
}
