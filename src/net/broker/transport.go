package broker

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/net"
	"github.com/sirupsen/logrus"
)

// NodeAddress returns the address under which a node is reachable through a
// broker.
func NodeAddress(node identity.InstanceNodeSessionID) string {
	return strings.ReplaceAll(node.RawID(), "::", "_")
}

// Transport implements the net.Transport interface over a WAMP router.
// Targets of Connect are node addresses, as returned by NodeAddress.
type Transport struct {
	*net.Endpoint

	client    *client.Client
	ownClient bool
	address   string
	timeout   time.Duration

	// connecting holds the channels whose handshake answer is on its way
	// back to us, so that early frames can wait for them
	connecting     map[string]chan struct{}
	connectingLock sync.Mutex

	logger *logrus.Entry
}

// NewTransport connects to a remote router and returns a Transport using the
// resulting session.
func NewTransport(ctx context.Context, conf Config, local identity.InstanceNodeSessionID, logger *logrus.Entry) (*Transport, error) {
	cli, err := Dial(ctx, conf, logger)
	if err != nil {
		return nil, err
	}
	t := NewTransportFromClient(cli, local, conf.ResponseTimeout, logger)
	t.ownClient = true
	return t, nil
}

// NewTransportFromClient returns a Transport using an existing WAMP session.
// The session is not closed by Close.
func NewTransportFromClient(cli *client.Client, local identity.InstanceNodeSessionID, timeout time.Duration, logger *logrus.Entry) *Transport {
	return &Transport{
		Endpoint:   net.NewEndpoint(local, logger),
		client:     cli,
		address:    NodeAddress(local),
		timeout:    timeout,
		connecting: make(map[string]chan struct{}),
		logger:     logger,
	}
}

// Listen implements the net.Transport interface. It registers the procedure
// of the local node with the router.
func (t *Transport) Listen() {
	if err := t.client.Register(nodeProcedurePrefix+t.address, t.callHandler, nil); err != nil {
		t.logger.WithError(err).Error("Failed to register procedure")
		return
	}
	t.logger.WithField("procedure", nodeProcedurePrefix+t.address).Debug("Registered procedure with router")
}

// LocalAddr implements the net.Transport interface.
func (t *Transport) LocalAddr() string {
	return t.address
}

// AdvertiseAddr implements the net.Transport interface.
func (t *Transport) AdvertiseAddr() string {
	return t.address
}

// Connect implements the net.Transport interface.
func (t *Transport) Connect(target string, timeout time.Duration) (net.MessageChannel, error) {
	if t.IsShutdown() {
		return nil, net.ErrTransportShutdown
	}

	id := net.NewChannelID()
	hs, err := net.NewHandshake(id, t.LocalNode())
	if err != nil {
		return nil, err
	}

	ready := make(chan struct{})
	t.connectingLock.Lock()
	t.connecting[id] = ready
	t.connectingLock.Unlock()

	defer func() {
		t.connectingLock.Lock()
		delete(t.connecting, id)
		t.connectingLock.Unlock()
		close(ready)
	}()

	link := &link{transport: t, procedure: nodeProcedurePrefix + target}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ack, err := link.call(ctx, hs)
	if err != nil {
		return nil, err
	}
	if ack == nil {
		return nil, fmt.Errorf("no handshake answer from %s", target)
	}

	return t.CompleteHandshake(id, ack, link)
}

// Close implements the net.Transport interface.
func (t *Transport) Close() error {
	if t.IsShutdown() {
		return nil
	}
	t.Shutdown()

	if err := t.client.Unregister(nodeProcedurePrefix + t.address); err != nil {
		t.logger.WithError(err).Debug("Failed to unregister procedure")
	}
	if t.ownClient {
		return t.client.Close()
	}
	return nil
}

// callHandler is called when a frame is relayed to us by the router.
func (t *Transport) callHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 1 {
		return errResult(ErrBadFrame,
			fmt.Sprintf("Invocation should contain 1 argument, not %d", len(inv.Arguments)))
	}

	f, err := decodeArg(inv.Arguments[0])
	if err != nil {
		return errResult(ErrBadFrame, err.Error())
	}

	if f.Kind == net.FrameHandshake {
		link := &link{transport: t}
		ack, ch, err := t.AnswerHandshake(f, link)
		if err != nil {
			t.logger.WithError(err).Warn("Refused incoming channel")
		}
		if ch != nil {
			link.procedure = nodeProcedurePrefix + NodeAddress(ch.RemoteNodeID())
			t.Open(ch)
		}
		return frameResult(ack)
	}

	ch := t.Channel(f.Channel)
	if ch == nil {
		ch = t.awaitChannel(f.Channel)
	}
	if ch == nil {
		return errResult(ErrNoSuchChannel, f.Channel)
	}

	t.HandleFrame(ch, f)
	return client.InvokeResult{}
}

// awaitChannel waits for a channel we initiated, in case frames of the
// remote end overtake the handshake answer.
func (t *Transport) awaitChannel(id string) *net.Channel {
	t.connectingLock.Lock()
	ready, ok := t.connecting[id]
	t.connectingLock.Unlock()

	if !ok {
		return nil
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-timer.C:
	}
	return t.Channel(id)
}

// link writes the frames of one channel as calls to the procedure of the
// remote node.
type link struct {
	transport *Transport
	procedure string
}

// WriteFrame implements the net.Link interface.
func (l *link) WriteFrame(f *net.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.transport.timeout)
	defer cancel()

	_, err := l.call(ctx, f)
	return err
}

// Close implements the net.Link interface. The WAMP session is shared by
// all channels, so there is nothing to release.
func (l *link) Close() error {
	return nil
}

func (l *link) call(ctx context.Context, f *net.Frame) (*net.Frame, error) {
	arg, err := encodeArg(f)
	if err != nil {
		return nil, err
	}

	result, err := l.transport.client.Call(ctx, l.procedure, nil, wamp.List{arg}, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(result.Arguments) == 0 {
		return nil, nil
	}
	return decodeArg(result.Arguments[0])
}

// Frames travel as base64 strings, which every WAMP serializer carries
// unchanged.
func encodeArg(f *net.Frame) (string, error) {
	data, err := net.EncodeFrame(f)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeArg(arg interface{}) (*net.Frame, error) {
	s, ok := wamp.AsString(arg)
	if !ok {
		return nil, fmt.Errorf("frame argument is not a string")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return net.DecodeFrame(data)
}

func frameResult(f *net.Frame) client.InvokeResult {
	arg, err := encodeArg(f)
	if err != nil {
		return errResult(ErrBadFrame, err.Error())
	}
	return client.InvokeResult{Args: wamp.List{arg}}
}

func errResult(uri string, msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  wamp.URI(uri),
		Args: wamp.List{msg},
	}
}
