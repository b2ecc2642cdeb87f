package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/pion/webrtc/v2"
	"github.com/rcenet/rce/src/net/signal"
	"github.com/sirupsen/logrus"
)

// Signal implements the signal.Signal interface. It sends and receives SDP
// offers through the WAMP router.
type Signal struct {
	id       string
	client   *client.Client
	timeout  time.Duration
	consumer chan signal.OfferPromise
	done     chan struct{}
	logger   *logrus.Entry
}

// NewSignal returns a Signal that answers offers addressed to id, using an
// existing WAMP session.
func NewSignal(cli *client.Client, id string, timeout time.Duration, logger *logrus.Entry) *Signal {
	return &Signal{
		id:       id,
		client:   cli,
		timeout:  timeout,
		consumer: make(chan signal.OfferPromise),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// ID implements the Signal interface.
func (s *Signal) ID() string {
	return s.id
}

// Listen implements the Signal interface. It registers a procedure, named
// after the id of the signal, which forwards offers to the consumer channel.
func (s *Signal) Listen() error {
	if err := s.client.Register(signalProcedurePrefix+s.id, s.callHandler, nil); err != nil {
		s.logger.WithError(err).Error("Failed to register procedure")
		return err
	}
	s.logger.Debug("Registered signal procedure with router")
	return nil
}

// Consumer implements the Signal interface. The offers are wrapped inside
// promises which provide an asynchronous response mechanism.
func (s *Signal) Consumer() <-chan signal.OfferPromise {
	return s.consumer
}

// Offer implements the Signal interface. It sends an offer and waits for an
// answer.
func (s *Signal) Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	raw, err := json.Marshal(offer)
	if err != nil {
		return nil, err
	}

	callArgs := wamp.List{
		s.id,
		string(raw),
	}

	// Create a context to cancel the call after timeout.
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.client.Call(ctx, signalProcedurePrefix+target, nil, callArgs, nil, nil)
	if err != nil {
		return nil, err
	}

	if len(result.Arguments) == 0 {
		return nil, fmt.Errorf("empty answer from %s", target)
	}
	sdp, ok := wamp.AsString(result.Arguments[0])
	if !ok {
		return nil, fmt.Errorf("answer from %s is not a string", target)
	}

	answer := webrtc.SessionDescription{}
	if err := json.Unmarshal([]byte(sdp), &answer); err != nil {
		return nil, err
	}

	return &answer, nil
}

// Close implements the Signal interface. The WAMP session itself is left
// open.
func (s *Signal) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.client.Unregister(signalProcedurePrefix + s.id)
}

// IsProcessingOfferError reports whether err was raised by the remote end
// while processing an offer.
func IsProcessingOfferError(err error) bool {
	return err != nil && strings.Contains(err.Error(), ErrProcessingOffer)
}

// callHandler is called when an offer is received from the router.
func (s *Signal) callHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 2 {
		return errResult(ErrProcessingOffer,
			fmt.Sprintf("Invocation should contain 2 arguments, not %d", len(inv.Arguments)))
	}

	from, ok := wamp.AsString(inv.Arguments[0])
	if !ok {
		return errResult(ErrProcessingOffer, "Error reading invocation first argument")
	}

	sdp, ok := wamp.AsString(inv.Arguments[1])
	if !ok {
		return errResult(ErrProcessingOffer, "Error reading invocation second argument")
	}

	offer := webrtc.SessionDescription{}
	if err := json.Unmarshal([]byte(sdp), &offer); err != nil {
		return errResult(ErrProcessingOffer, fmt.Sprintf("Error parsing invocation SDP: %v", err))
	}

	promise, respCh := signal.NewOfferPromise(from, offer, s.timeout)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.consumer <- promise:
	case <-s.done:
		return errResult(ErrProcessingOffer, "Signal closed")
	case <-timer.C:
		return errResult(ErrProcessingOffer, "Offer not consumed")
	}

	// Wait for response
	select {
	case <-timer.C:
		return errResult(ErrProcessingOffer, "Callee TIMEOUT")
	case resp := <-respCh:
		if resp.Error != nil {
			return errResult(ErrProcessingOffer, resp.Error.Error())
		}

		raw, err := json.Marshal(resp.Answer)
		if err != nil {
			return errResult(ErrProcessingOffer, fmt.Sprintf("Error parsing answer: %v", err))
		}

		return client.InvokeResult{
			Args: wamp.List{string(raw)},
		}
	}
}
