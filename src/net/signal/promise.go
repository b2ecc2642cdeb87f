package signal

import (
	"time"

	"github.com/pion/webrtc/v2"
)

// OfferPromiseResponse is what the answering side hands back through an
// OfferPromise: an SDP answer or the reason there is none.
type OfferPromiseResponse struct {
	Answer *webrtc.SessionDescription
	Error  error
}

// OfferPromise is an incoming SDP offer awaiting an answer. The offering side
// stops waiting at Deadline; a zero Deadline waits as long as the signal
// does.
type OfferPromise struct {
	From     string
	Offer    webrtc.SessionDescription
	Deadline time.Time
	RespChan chan<- OfferPromiseResponse
}

// NewOfferPromise wraps an offer received from a peer. The returned channel
// yields the single response.
func NewOfferPromise(from string, offer webrtc.SessionDescription, timeout time.Duration) (OfferPromise, <-chan OfferPromiseResponse) {
	respCh := make(chan OfferPromiseResponse, 1)
	p := OfferPromise{
		From:     from,
		Offer:    offer,
		RespChan: respCh,
	}
	if timeout > 0 {
		p.Deadline = time.Now().Add(timeout)
	}
	return p, respCh
}

// Expired reports whether the offering side has stopped waiting.
func (p *OfferPromise) Expired() bool {
	return !p.Deadline.IsZero() && !time.Now().Before(p.Deadline)
}

// Respond hands back an SDP answer and/or an error. It never blocks; false
// means the response could not be delivered, either because the promise was
// already answered or because nobody listens to it.
func (p *OfferPromise) Respond(answer *webrtc.SessionDescription, err error) bool {
	if p.RespChan == nil {
		return false
	}
	select {
	case p.RespChan <- OfferPromiseResponse{answer, err}:
		return true
	default:
		return false
	}
}
