// Package call orchestrates a two-leg call: capture once, negotiate leg A and
// leg B concurrently on the shared stream, hang up both together.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/multipc/internal/media"
	"github.com/1ureka/multipc/internal/rtc"
	"github.com/1ureka/multipc/internal/session"
	"github.com/1ureka/multipc/internal/util"
)

var (
	ErrNoCall          = errors.New("no call in progress")
	ErrCallInProgress  = errors.New("call already in progress")
	ErrNotCaptured     = errors.New("no media captured")
	ErrAlreadyCaptured = errors.New("media already captured")
	ErrHungUp          = errors.New("call hung up during negotiation")
)

// Legs lists the legs of every call in teardown order.
var Legs = []rtc.LegID{rtc.LegA, rtc.LegB}

// State is the orchestrator's lifecycle.
type State int

const (
	StateNoCapture State = iota
	StateCaptured
	StateInCall
)

func (s State) String() string {
	switch s {
	case StateNoCapture:
		return "no-capture"
	case StateCaptured:
		return "captured"
	case StateInCall:
		return "in-call"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Controls is the enablement of the three user actions, derived from State.
type Controls struct {
	Start  bool
	Call   bool
	Hangup bool
}

func (s State) Controls() Controls {
	return Controls{
		Start:  s == StateNoCapture,
		Call:   s == StateCaptured,
		Hangup: s == StateInCall,
	}
}

// EndpointFactory creates one side of one leg.
type EndpointFactory interface {
	NewEndpoint(leg rtc.LegID, side rtc.Side) (rtc.Endpoint, error)
}

// EndpointFactoryFunc adapts a function to EndpointFactory.
type EndpointFactoryFunc func(leg rtc.LegID, side rtc.Side) (rtc.Endpoint, error)

func (f EndpointFactoryFunc) NewEndpoint(leg rtc.LegID, side rtc.Side) (rtc.Endpoint, error) {
	return f(leg, side)
}

// PionEndpoints creates pion-backed endpoints sharing one API.
type PionEndpoints struct {
	API *webrtc.API
}

func (p PionEndpoints) NewEndpoint(leg rtc.LegID, side rtc.Side) (rtc.Endpoint, error) {
	ep, err := rtc.NewPeerEndpoint(p.API, leg, side)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// Sinks receives the three previews. Nil sinks discard.
type Sinks struct {
	Local media.Sink
	LegA  media.Sink
	LegB  media.Sink
}

func (s Sinks) forLeg(leg rtc.LegID) media.Sink {
	if leg == rtc.LegA {
		return s.LegA
	}
	return s.LegB
}

// Options configures an Orchestrator.
type Options struct {
	Source      media.Source
	Endpoints   EndpointFactory
	Constraints media.Constraints
	Sinks       Sinks
}

// Orchestrator owns the captured stream and the legs of the current call.
type Orchestrator struct {
	source      media.Source
	endpoints   EndpointFactory
	constraints media.Constraints
	sinks       Sinks

	mu        sync.Mutex
	state     State
	capturing bool
	stream    *media.Stream
	callID    string
	legs      []*session.Session
}

func New(opts Options) *Orchestrator {
	if opts.Sinks.Local == nil {
		opts.Sinks.Local = media.Discard
	}
	return &Orchestrator{
		source:      opts.Source,
		endpoints:   opts.Endpoints,
		constraints: opts.Constraints,
		sinks:       opts.Sinks,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Controls returns which actions are currently allowed.
func (o *Orchestrator) Controls() Controls {
	return o.State().Controls()
}

// CallID returns the id of the current call, or "" outside a call.
func (o *Orchestrator) CallID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callID
}

// Legs returns a snapshot of the current call's legs.
func (o *Orchestrator) Legs() []session.Info {
	o.mu.Lock()
	legs := append([]*session.Session(nil), o.legs...)
	o.mu.Unlock()

	infos := make([]session.Info, 0, len(legs))
	for _, s := range legs {
		infos = append(infos, s.Info())
	}
	return infos
}

// Start captures the local stream. On failure the state is unchanged and
// Start may be retried.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.stream != nil || o.capturing {
		o.mu.Unlock()
		return ErrAlreadyCaptured
	}
	o.capturing = true
	o.mu.Unlock()

	stream, err := o.source.Capture(ctx, o.constraints)

	o.mu.Lock()
	o.capturing = false
	if err != nil {
		o.mu.Unlock()
		util.LogError("capture failed: %v", err)
		return err
	}
	o.stream = stream
	o.state = StateCaptured
	o.mu.Unlock()

	util.LogSuccess("captured stream %s (%d tracks)", stream.ID(), len(stream.Tracks()))
	o.sinks.Local.Attach(stream.Handle())
	return nil
}

// Call negotiates both legs on the captured stream. A leg that fails is
// closed and the other keeps going; the returned error joins the failures.
// Only when every leg fails is the call torn down. ErrHungUp means Hangup
// ended the call before negotiation finished.
func (o *Orchestrator) Call(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateInCall:
		o.mu.Unlock()
		return ErrCallInProgress
	case StateNoCapture:
		o.mu.Unlock()
		return ErrNotCaptured
	}
	callID := uuid.NewString()
	o.state = StateInCall
	o.callID = callID
	stream := o.stream
	o.mu.Unlock()

	util.LogInfo("call %s: starting legs %v", callID, Legs)

	// ── 1. Endpoints ──────────────────────────────────────────────────
	var (
		legs []*session.Session
		errs []error
	)
	for _, leg := range Legs {
		s, err := o.newLeg(leg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		legs = append(legs, s)
	}

	if !o.register(callID, legs) {
		for _, s := range legs {
			_ = s.Close()
		}
		return ErrHungUp
	}

	// ── 2. Negotiate both legs concurrently ───────────────────────────
	legErrs := make([]error, len(legs))
	var wg sync.WaitGroup
	for i, s := range legs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			legErrs[i] = negotiate(ctx, s, stream.LocalTracks())
		}()
	}
	wg.Wait()

	// ── 3. Outcome ────────────────────────────────────────────────────
	hungUp := false
	for _, err := range legErrs {
		switch {
		case err == nil:
		case errors.Is(err, session.ErrClosed):
			hungUp = true
		default:
			errs = append(errs, err)
		}
	}

	if o.CallID() != callID || hungUp {
		return ErrHungUp
	}
	if len(errs) == len(Legs) {
		util.LogError("call %s: every leg failed", callID)
		o.teardown(callID)
		return errors.Join(errs...)
	}
	if len(errs) > 0 {
		util.LogWarning("call %s: continuing with %d of %d legs", callID, len(Legs)-len(errs), len(Legs))
	} else {
		util.LogSuccess("call %s: all legs negotiated", callID)
	}
	return errors.Join(errs...)
}

// WaitConnected waits until every live leg reports connected transports.
func (o *Orchestrator) WaitConnected(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateInCall {
		o.mu.Unlock()
		return ErrNoCall
	}
	legs := append([]*session.Session(nil), o.legs...)
	o.mu.Unlock()

	var errs []error
	for _, s := range legs {
		if s.State().Terminal() {
			continue
		}
		if err := s.WaitConnected(ctx); err != nil {
			errs = append(errs, fmt.Errorf("leg %s: %w", s.Leg(), err))
		}
	}
	return errors.Join(errs...)
}

// Hangup closes leg A then leg B and returns to StateCaptured. Close
// failures are logged; only a missing call is reported.
func (o *Orchestrator) Hangup() error {
	o.mu.Lock()
	if o.state != StateInCall {
		o.mu.Unlock()
		return ErrNoCall
	}
	callID := o.callID
	o.mu.Unlock()

	o.teardown(callID)
	util.LogInfo("call %s: hung up", callID)
	return nil
}

// Close ends any call and stops capture.
func (o *Orchestrator) Close() error {
	if err := o.Hangup(); err != nil && !errors.Is(err, ErrNoCall) {
		return err
	}

	o.mu.Lock()
	stream := o.stream
	o.stream = nil
	o.state = StateNoCapture
	o.mu.Unlock()

	if stream != nil {
		stream.Stop()
		util.LogInfo("capture stopped")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// newLeg creates both endpoints of leg and the session that owns them.
func (o *Orchestrator) newLeg(leg rtc.LegID) (*session.Session, error) {
	fail := func(err error) (*session.Session, error) {
		nErr := &rtc.NegotiationError{Leg: leg, Step: rtc.StepCreateEndpoints, Err: err}
		util.LogError("%v", nErr)
		return nil, nErr
	}

	local, err := o.endpoints.NewEndpoint(leg, rtc.SideLocal)
	if err != nil {
		return fail(err)
	}
	remote, err := o.endpoints.NewEndpoint(leg, rtc.SideRemote)
	if err != nil {
		return fail(errors.Join(err, local.Close()))
	}

	s, err := session.New(local, remote, o.sinks.forLeg(leg))
	if err != nil {
		return fail(errors.Join(err, local.Close(), remote.Close()))
	}
	return s, nil
}

// register publishes legs as the current call's, unless the call has
// already been hung up.
func (o *Orchestrator) register(callID string, legs []*session.Session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.callID != callID {
		return false
	}
	o.legs = legs
	return true
}

// teardown closes the call's legs in order and returns to StateCaptured. It
// does nothing if callID is no longer current.
func (o *Orchestrator) teardown(callID string) {
	o.mu.Lock()
	if o.callID != callID {
		o.mu.Unlock()
		return
	}
	legs := o.legs
	o.legs = nil
	o.callID = ""
	o.state = StateCaptured
	o.mu.Unlock()

	for _, s := range legs {
		if err := s.Close(); err != nil {
			util.LogWarning("leg %s: close: %v", s.Leg(), err)
		}
	}
}

// negotiate runs one leg. A leg that fails has already closed its endpoints
// and stays in session.StateFailed until hangup.
func negotiate(ctx context.Context, s *session.Session, tracks []webrtc.TrackLocal) error {
	if err := s.AttachLocalTracks(tracks); err != nil {
		return err
	}
	return s.Negotiate(ctx)
}
