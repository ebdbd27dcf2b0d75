// Package relay forwards ICE candidates from one endpoint of a leg to its
// peer.
//
// A candidate may be discovered before the destination has applied the
// peer's description, and pion rejects candidates in that window. The relay
// therefore holds candidates until the owning session marks the destination
// ready, then delivers them in arrival order. No candidate is dropped while
// the relay is open.
package relay

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/multipc/internal/rtc"
	"github.com/1ureka/multipc/internal/util"
)

var ErrClosed = errors.New("relay closed")

// Destination is the part of an endpoint the relay delivers to.
type Destination interface {
	Leg() rtc.LegID
	Side() rtc.Side
	AddICECandidate(candidate *webrtc.ICECandidateInit) error
}

// Relay delivers candidates to one destination endpoint.
type Relay struct {
	dest Destination

	mu      sync.Mutex
	ready   bool
	closed  bool
	pending []*webrtc.ICECandidateInit
}

// New creates a relay bound to dest. It buffers until Ready is called.
func New(dest Destination) *Relay {
	return &Relay{dest: dest}
}

// Relay hands candidate to the destination, or buffers it if the destination
// is not ready. A rejection is returned as *rtc.CandidateError; it is not
// fatal and the relay stays usable.
func (r *Relay) Relay(candidate *webrtc.ICECandidateInit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if !r.ready {
		r.pending = append(r.pending, candidate)
		util.Stats.AddBuffered()
		return nil
	}
	return r.deliver(candidate)
}

// Ready marks the destination as having applied its remote description and
// flushes buffered candidates in order. Every rejection is reported; a
// rejection does not stop the flush.
func (r *Relay) Ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.ready {
		return nil
	}
	r.ready = true

	var errs []error
	for i, c := range r.pending {
		if err := r.deliver(c); err != nil {
			errs = append(errs, err)
		}
		r.pending[i] = nil
	}
	r.pending = nil
	return errors.Join(errs...)
}

// Pending returns the number of buffered candidates.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close discards buffered candidates; later Relay calls return ErrClosed.
// It returns how many candidates were discarded.
func (r *Relay) Close() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}
	r.closed = true
	n := len(r.pending)
	r.pending = nil
	return n
}

func (r *Relay) deliver(candidate *webrtc.ICECandidateInit) error {
	if err := r.dest.AddICECandidate(candidate); err != nil {
		util.Stats.AddFailed()
		return &rtc.CandidateError{
			Leg:       r.dest.Leg(),
			Dest:      r.dest.Side(),
			Candidate: candidate,
			Err:       err,
		}
	}
	util.Stats.AddRelayed()
	return nil
}
