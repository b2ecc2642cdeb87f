package messaging

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/metrics"
	"github.com/rcenet/rce/src/net"
	"github.com/rcenet/rce/src/protocol"
	"github.com/rcenet/rce/src/routing"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoResult is reported when a handler returns neither a result nor an
	// error.
	ErrNoResult = errors.New("request handler returned no result")

	// ErrNoHandler is reported for requests of a type without handler.
	ErrNoHandler = errors.New("no handler for message type")

	// ErrHopLimit is reported when a request went through too many nodes.
	ErrHopLimit = errors.New("hop limit exceeded")
)

// RequestHandler serves the requests of one message type addressed to the
// local node. It must return a non-nil result or an error.
type RequestHandler func(req *protocol.NetworkRequest) ([]byte, error)

// Router computes routes to other nodes.
type Router interface {
	GetRouteTo(dest identity.InstanceNodeSessionID) (routing.Route, error)
}

// Config holds the tunables of the messaging service.
type Config struct {
	// MaxHops is the number of forwards after which a request is refused.
	MaxHops int
	// Timeout bounds the wait for the response of every hop.
	Timeout time.Duration
}

// DefaultConfig returns the default messaging configuration.
func DefaultConfig() Config {
	return Config{
		MaxHops: 16,
		Timeout: 30 * time.Second,
	}
}

// Service sends routed requests and dispatches incoming ones.
type Service struct {
	local    identity.InstanceNodeSessionID
	registry *net.Registry
	router   Router
	conf     Config

	handlers     map[protocol.MessageType]RequestHandler
	handlersLock sync.RWMutex

	metrics *metrics.Collector
	logger  *logrus.Entry
}

// NewService creates a messaging Service.
func NewService(
	local identity.InstanceNodeSessionID,
	registry *net.Registry,
	router Router,
	conf Config,
	collector *metrics.Collector,
	logger *logrus.Entry,
) *Service {
	if conf.MaxHops <= 0 {
		conf.MaxHops = DefaultConfig().MaxHops
	}
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultConfig().Timeout
	}
	return &Service{
		local:    local,
		registry: registry,
		router:   router,
		conf:     conf,
		handlers: make(map[protocol.MessageType]RequestHandler),
		metrics:  collector,
		logger:   logger,
	}
}

// LocalNode returns the id of the local node.
func (s *Service) LocalNode() identity.InstanceNodeSessionID {
	return s.local
}

// RegisterRequestHandler sets the handler of a message type, replacing any
// previous one.
func (s *Service) RegisterRequestHandler(t protocol.MessageType, h RequestHandler) error {
	if err := protocol.CheckMessageType(t); err != nil {
		return err
	}

	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()
	s.handlers[t] = h
	return nil
}

// PerformRoutedRequest sends a request to dest and returns its eventual
// response. Requests addressed to the local node are dispatched locally.
func (s *Service) PerformRoutedRequest(content []byte, t protocol.MessageType, dest identity.InstanceNodeSessionID) *ResponseFuture {
	req, err := protocol.CreateRequest(content, t, s.local, dest)
	if err != nil {
		f := newResponseFuture("")
		f.complete(protocol.NewFailureResponse("", protocol.ProtocolError, err))
		return f
	}

	f := newResponseFuture(req.RequestID)
	start := time.Now()
	done := func(resp *protocol.NetworkResponse) {
		s.metrics.RecordRequest(string(t), resp.Code.String(), time.Since(start))
		f.complete(resp)
	}

	if dest == s.local {
		go func() { done(s.dispatch(req)) }()
		return f
	}

	ch, resp := s.nextHop(req)
	if resp != nil {
		done(resp)
		return f
	}

	ch.SendAsync(req, done, s.conf.Timeout)
	return f
}

// SendRequest is PerformRoutedRequest waiting for the response.
func (s *Service) SendRequest(content []byte, t protocol.MessageType, dest identity.InstanceNodeSessionID) *protocol.NetworkResponse {
	f := s.PerformRoutedRequest(content, t, dest)
	<-f.Done()
	return f.Response()
}

// HandleIncoming serves a request received on a channel: it is dispatched
// locally if addressed to the local node and forwarded otherwise.
func (s *Service) HandleIncoming(rpc net.RPC) {
	req := rpc.Request
	if req.Recipient == s.local {
		go rpc.Respond(s.dispatch(req), nil)
		return
	}
	go rpc.Respond(s.ForwardAndAwait(req), nil)
}

// ForwardAndAwait passes a request addressed to another node on to the next
// hop towards its recipient and waits for the response.
func (s *Service) ForwardAndAwait(req *protocol.NetworkRequest) *protocol.NetworkResponse {
	fwd := req.ForwardedCopy(s.local)

	var resp *protocol.NetworkResponse
	defer func() {
		s.metrics.RecordForward(resp.Code.String())
	}()

	if fwd.Metadata.HopCount > s.conf.MaxHops {
		s.logger.WithFields(logrus.Fields{
			"request":   req.RequestID,
			"recipient": req.Recipient.RawID(),
			"trace":     fwd.Metadata.Trace,
			"age":       req.Age(),
		}).Warn("Refusing to forward request")
		resp = protocol.CreateFailureResponse(req, protocol.HopLimitExceeded,
			fmt.Errorf("%w: %d hops", ErrHopLimit, fwd.Metadata.HopCount))
		return resp
	}

	ch, failure := s.nextHop(fwd)
	if failure != nil {
		resp = failure
		return resp
	}

	s.logger.WithFields(logrus.Fields{
		"request":   req.RequestID,
		"recipient": req.Recipient.RawID(),
		"next":      ch.RemoteNodeID().RawID(),
		"hops":      fwd.Metadata.HopCount,
	}).Debug("Forwarding request")

	resp = ch.SendBlocking(fwd, s.conf.Timeout)
	return resp
}

// nextHop returns the channel on which req must be sent, or the failure
// response if there is none.
func (s *Service) nextHop(req *protocol.NetworkRequest) (net.MessageChannel, *protocol.NetworkResponse) {
	route, err := s.router.GetRouteTo(req.Recipient)
	if err != nil {
		return nil, protocol.CreateFailureResponse(req, protocol.NoRouteToDestination, err)
	}
	if route.IsLocal() {
		return nil, protocol.CreateFailureResponse(req, protocol.ProtocolError,
			fmt.Errorf("route to %s is local", req.Recipient.RawID()))
	}

	hop := route.FirstHop()
	ch, ok := s.registry.Get(hop.ChannelID)
	if !ok {
		return nil, protocol.CreateFailureResponse(req, protocol.NoRouteToDestination,
			fmt.Errorf("channel %s of route %s is gone", hop.ChannelID, route))
	}
	return ch, nil
}

// dispatch runs the handler of a request addressed to the local node.
func (s *Service) dispatch(req *protocol.NetworkRequest) (resp *protocol.NetworkResponse) {
	s.handlersLock.RLock()
	h, ok := s.handlers[req.MessageType]
	s.handlersLock.RUnlock()

	if !ok {
		return protocol.CreateFailureResponse(req, protocol.ProtocolError,
			fmt.Errorf("%w %q", ErrNoHandler, string(req.MessageType)))
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"request": req.RequestID,
				"type":    req.MessageType,
				"panic":   r,
				"stack":   string(debug.Stack()),
			}).Error("Request handler panicked")
			resp = protocol.CreateFailureResponse(req, protocol.ExceptionAtDestination,
				fmt.Errorf("handler panic: %v", r))
		}
	}()

	if len(req.Metadata.Trace) > 0 {
		s.logger.WithFields(logrus.Fields{
			"request": req.RequestID,
			"sender":  req.Sender.RawID(),
			"trace":   req.Metadata.Trace,
			"age":     req.Age(),
		}).Debug("Serving routed request")
	}

	result, err := h(req)
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return protocol.CreateFailureResponse(req, protocol.SerializationFailure, err)
	case protocol.IsDisallowedKind(err):
		return protocol.CreateFailureResponse(req, protocol.SerializationFailure, err)
	case err != nil:
		return protocol.CreateFailureResponse(req, protocol.ExceptionAtDestination, err)
	case result == nil:
		return protocol.CreateFailureResponse(req, protocol.ExceptionAtDestination, ErrNoResult)
	}
	return protocol.CreateResponseForRequest(req, result)
}
