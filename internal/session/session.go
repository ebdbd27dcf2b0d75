// Package session drives one leg of a call: a local endpoint that offers the
// captured tracks and a remote endpoint that answers receive-only, with
// candidates relayed in both directions.
//
// All endpoint mutations of a leg are serialized through its Session. Each
// endpoint's events are consumed by one goroutine, so pion callbacks never
// wait on negotiation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/multipc/internal/media"
	"github.com/1ureka/multipc/internal/relay"
	"github.com/1ureka/multipc/internal/rtc"
	"github.com/1ureka/multipc/internal/signaling"
	"github.com/1ureka/multipc/internal/util"
)

var (
	ErrClosed       = errors.New("session closed")
	ErrNoTracks     = errors.New("no local tracks attached")
	ErrInvalidState = errors.New("invalid session state")
)

// State is the negotiation progress of a leg.
type State int

const (
	StateIdle State = iota
	StateOfferCreated
	StateOfferApplied
	StateAnswerCreated
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferCreated:
		return "offer-created"
	case StateOfferApplied:
		return "offer-applied"
	case StateAnswerCreated:
		return "answer-created"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible except Close.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Session owns one leg.
type Session struct {
	leg    rtc.LegID
	local  rtc.Endpoint
	remote rtc.Endpoint
	sink   media.Sink

	toRemote *relay.Relay // local's candidates → remote
	toLocal  *relay.Relay // remote's candidates → local
	channel  signaling.Channel

	// opMu serializes every call that mutates endpoint negotiation state.
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	trackKinds []webrtc.RTPCodecType
	lastStream string

	candidateFailures atomic.Int64

	connected     chan struct{}
	connectedOnce sync.Once
	closed        chan struct{}
	closeOnce     sync.Once
	endpointsOnce sync.Once
	endpointsErr  error
}

// New takes ownership of a leg's two endpoints and starts consuming their
// events. Remote streams are handed to sink.
func New(local, remote rtc.Endpoint, sink media.Sink) (*Session, error) {
	if local.Side() != rtc.SideLocal || remote.Side() != rtc.SideRemote {
		return nil, fmt.Errorf("%w: endpoints must be (local, remote), got (%s, %s)", ErrInvalidState, local.Side(), remote.Side())
	}
	if local.Leg() != remote.Leg() {
		return nil, fmt.Errorf("%w: endpoints belong to legs %s and %s", ErrInvalidState, local.Leg(), remote.Leg())
	}
	if sink == nil {
		sink = media.Discard
	}

	s := &Session{
		leg:       local.Leg(),
		local:     local,
		remote:    remote,
		sink:      sink,
		toRemote:  relay.New(remote),
		toLocal:   relay.New(local),
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
	}
	s.channel = signaling.NewDirect(s.leg, s.deliverToLocal, s.deliverToRemote)

	go s.consume(local)
	go s.consume(remote)

	return s, nil
}

func (s *Session) Leg() rtc.LegID { return s.leg }

// State returns the current negotiation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// AttachLocalTracks adds the shared stream's tracks to the local endpoint.
// Only valid before negotiation starts.
func (s *Session) AttachLocalTracks(tracks []webrtc.TrackLocal) error {
	if err := s.expect(StateIdle); err != nil {
		return err
	}

	for _, t := range tracks {
		if err := s.step(context.Background(), rtc.StepAttachTracks, func() error {
			return s.local.AddTrack(t)
		}); err != nil {
			return err
		}
		s.mu.Lock()
		s.trackKinds = append(s.trackKinds, t.Kind())
		s.mu.Unlock()
	}
	util.LogDebug("leg %s: attached %d local tracks", s.leg, len(tracks))
	return nil
}

// Negotiate runs the offer/answer exchange. A returned *rtc.NegotiationError
// is terminal for this leg: the session moves to StateFailed and both
// endpoints are closed. ErrClosed means Close overtook the negotiation.
func (s *Session) Negotiate(ctx context.Context) error {
	if err := s.expect(StateIdle); err != nil {
		return err
	}
	s.mu.Lock()
	required := append([]webrtc.RTPCodecType(nil), s.trackKinds...)
	s.mu.Unlock()
	if len(required) == 0 {
		return ErrNoTracks
	}

	// 1. Offer. Reception of both kinds is requested even when the local
	// stream lacks one of them.
	var offer webrtc.SessionDescription
	if err := s.step(ctx, rtc.StepCreateOffer, func() (err error) {
		offer, err = s.local.CreateOffer(rtc.OfferOptions{ReceiveAudio: true, ReceiveVideo: true})
		return err
	}); err != nil {
		return err
	}
	util.Stats.AddOffer()
	s.setState(StateOfferCreated)
	util.LogInfo("leg %s: offer from local (sdp %08x)", s.leg, util.DescriptionDigest(offer.SDP))
	util.LogDebug("leg %s: offer\n%s", s.leg, offer.SDP)

	// 2. Commit the offer locally, then hand it to the remote side.
	if err := s.step(ctx, rtc.StepApplyOfferLocal, func() error {
		return s.local.SetLocalDescription(offer)
	}); err != nil {
		return err
	}
	if err := s.step(ctx, rtc.StepApplyOfferRemote, func() error {
		return s.channel.Send(ctx, signaling.OfferMessage(s.leg, rtc.SideLocal, offer))
	}); err != nil {
		return err
	}
	s.setState(StateOfferApplied)

	// 3. Answer. The remote side has no media of its own, so it must be
	// asked explicitly to accept what was offered.
	var answer webrtc.SessionDescription
	if err := s.step(ctx, rtc.StepCreateAnswer, func() (err error) {
		answer, err = s.remote.CreateAnswer(rtc.AnswerOptions{ReceiveAudio: true, ReceiveVideo: true})
		return err
	}); err != nil {
		return err
	}
	util.Stats.AddAnswer()
	s.setState(StateAnswerCreated)
	util.LogInfo("leg %s: answer from remote (sdp %08x)", s.leg, util.DescriptionDigest(answer.SDP))
	util.LogDebug("leg %s: answer\n%s", s.leg, answer.SDP)

	if err := s.step(ctx, rtc.StepValidateAnswer, func() error {
		return rtc.CheckAnswerAccepts(offer, answer, required)
	}); err != nil {
		return err
	}

	// 4. Commit the answer remotely, then hand it back to the local side.
	if err := s.step(ctx, rtc.StepApplyAnswerRemote, func() error {
		return s.remote.SetLocalDescription(answer)
	}); err != nil {
		return err
	}
	if err := s.step(ctx, rtc.StepApplyAnswerLocal, func() error {
		return s.channel.Send(ctx, signaling.AnswerMessage(s.leg, rtc.SideRemote, answer))
	}); err != nil {
		return err
	}
	s.setState(StateConnected)
	util.LogSuccess("leg %s: negotiation complete", s.leg)
	return nil
}

// WaitConnected blocks until both endpoints report a connected transport.
func (s *Session) WaitConnected(ctx context.Context) error {
	select {
	case <-s.connected:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// step runs one serialized endpoint operation and maps its failure to a
// NegotiationError, unless the session was closed underneath it.
func (s *Session) step(ctx context.Context, step rtc.Step, fn func() error) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return s.fail(step, err)
	}

	s.opMu.Lock()
	err := fn()
	s.opMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}
	if err != nil {
		return s.fail(step, err)
	}
	return nil
}

func (s *Session) fail(step rtc.Step, err error) error {
	nErr := &rtc.NegotiationError{Leg: s.leg, Step: step, Err: err}
	util.LogError("%v", nErr)

	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = StateFailed
	}
	s.mu.Unlock()

	s.closeEndpoints()
	return nErr
}

// ---------------------------------------------------------------------------
// Signaling handlers (run under opMu by the sender)
// ---------------------------------------------------------------------------

func (s *Session) deliverToRemote(_ context.Context, msg signaling.Message) error {
	switch msg.Type {
	case signaling.MsgTypeOffer:
		if err := s.remote.SetRemoteDescription(*msg.Description); err != nil {
			return err
		}
		s.logFlush(s.toRemote.Ready())
		return nil
	case signaling.MsgTypeCandidate:
		return s.toRemote.Relay(msg.Candidate)
	default:
		return fmt.Errorf("remote endpoint cannot take %s", msg.Type)
	}
}

func (s *Session) deliverToLocal(_ context.Context, msg signaling.Message) error {
	switch msg.Type {
	case signaling.MsgTypeAnswer:
		if err := s.local.SetRemoteDescription(*msg.Description); err != nil {
			return err
		}
		s.logFlush(s.toLocal.Ready())
		return nil
	case signaling.MsgTypeCandidate:
		return s.toLocal.Relay(msg.Candidate)
	default:
		return fmt.Errorf("local endpoint cannot take %s", msg.Type)
	}
}

func (s *Session) logFlush(err error) {
	if err == nil {
		return
	}
	s.candidateFailures.Add(int64(len(unwrapJoined(err))))
	util.LogWarning("leg %s: buffered candidates rejected: %v", s.leg, err)
}

func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// ---------------------------------------------------------------------------
// Endpoint events
// ---------------------------------------------------------------------------

// consume drains ep's events until the endpoint is closed.
func (s *Session) consume(ep rtc.Endpoint) {
	for ev := range ep.Events() {
		switch ev.Kind {
		case rtc.EventCandidate:
			if ep.Side() == rtc.SideLocal {
				s.OnLocalCandidate(ev.Candidate)
			} else {
				s.OnRemoteCandidate(ev.Candidate)
			}
		case rtc.EventTrack:
			if ep.Side() == rtc.SideRemote {
				s.OnRemoteTrackReceived(ev.Stream)
			}
		case rtc.EventState:
			s.onConnectionState(ep.Side(), ev.State)
		}
	}
}

// OnLocalCandidate forwards a candidate discovered by the local endpoint.
func (s *Session) OnLocalCandidate(c *webrtc.ICECandidateInit) {
	s.forward(rtc.SideLocal, c)
}

// OnRemoteCandidate forwards a candidate discovered by the remote endpoint.
func (s *Session) OnRemoteCandidate(c *webrtc.ICECandidateInit) {
	s.forward(rtc.SideRemote, c)
}

func (s *Session) forward(from rtc.Side, c *webrtc.ICECandidateInit) {
	if s.isClosed() {
		return
	}
	util.LogDebug("leg %s: new %s ICE candidate: %s", s.leg, from, rtc.CandidateString(c))

	s.opMu.Lock()
	err := s.channel.Send(context.Background(), signaling.CandidateMessage(s.leg, from, c))
	s.opMu.Unlock()

	switch {
	case err == nil, errors.Is(err, relay.ErrClosed):
	default:
		s.candidateFailures.Add(1)
		util.LogWarning("failed to add ICE candidate: %v", err)
	}
}

// OnRemoteTrackReceived hands the remote stream to the sink the first time a
// stream identity is seen. Every track of a stream reports the same identity,
// so a stream is rendered once.
func (s *Session) OnRemoteTrackReceived(stream rtc.StreamHandle) {
	s.mu.Lock()
	if s.state == StateClosed || stream.ID == s.lastStream {
		s.mu.Unlock()
		return
	}
	s.lastStream = stream.ID
	s.mu.Unlock()

	util.Stats.AddTrack()
	util.LogInfo("leg %s: received remote stream %s", s.leg, stream.ID)
	s.sink.Attach(stream)
}

func (s *Session) onConnectionState(side rtc.Side, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if s.local.ConnectionState() == webrtc.PeerConnectionStateConnected &&
			s.remote.ConnectionState() == webrtc.PeerConnectionStateConnected {
			s.connectedOnce.Do(func() {
				util.LogSuccess("leg %s: media path connected", s.leg)
				close(s.connected)
			})
		}
	case webrtc.PeerConnectionStateFailed:
		util.LogWarning("leg %s: %s transport failed", s.leg, side)
	}
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Close moves the session to StateClosed and closes both endpoints. Only the
// first call does anything; it returns the endpoints' close errors joined,
// for diagnostics only.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.closed)
		s.closeEndpoints()
	})
	return s.endpointsErr
}

// closeEndpoints closes both endpoints exactly once, each regardless of the
// other's result.
func (s *Session) closeEndpoints() {
	s.endpointsOnce.Do(func() {
		if n := s.toRemote.Close() + s.toLocal.Close(); n > 0 {
			util.LogDebug("leg %s: discarded %d undelivered candidates", s.leg, n)
		}
		s.endpointsErr = errors.Join(closeEndpoint(s.local), closeEndpoint(s.remote))
	})
}

func closeEndpoint(ep rtc.Endpoint) error {
	if err := ep.Close(); err != nil {
		return fmt.Errorf("close leg %s %s endpoint: %w", ep.Leg(), ep.Side(), err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Session) expect(want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateClosed:
		return ErrClosed
	case s.state != want:
		return fmt.Errorf("%w: leg %s is %s, want %s", ErrInvalidState, s.leg, s.state, want)
	}
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.state = st
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Stats summarizes candidate traffic for diagnostics.
type Stats struct {
	CandidateFailures int64
	Pending           int // candidates still buffered in either direction
}

func (s *Session) Stats() Stats {
	return Stats{
		CandidateFailures: s.candidateFailures.Load(),
		Pending:           s.toRemote.Pending() + s.toLocal.Pending(),
	}
}

// Info is a presentation snapshot of the leg.
type Info struct {
	Leg         rtc.LegID
	State       State
	LocalState  webrtc.PeerConnectionState
	RemoteState webrtc.PeerConnectionState
}

func (s *Session) Info() Info {
	return Info{
		Leg:         s.leg,
		State:       s.State(),
		LocalState:  s.local.ConnectionState(),
		RemoteState: s.remote.ConnectionState(),
	}
}
