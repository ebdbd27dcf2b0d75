// Package rtctest provides an in-memory rtc.Endpoint for tests.
//
// The fake behaves like pion where the call stack depends on it: it rejects
// candidates until a remote description is applied, emits candidates as soon
// as it creates a description (so they race description application), emits
// one track event per sending section of the offer it answered, and reports a
// connected state once both descriptions are in place. Failures can be
// injected per operation.
package rtctest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/multipc/internal/rtc"
)

var (
	ErrClosed              = errors.New("endpoint closed")
	ErrNoRemoteDescription = errors.New("remote description not set")
)

// Faults selects injected failures. Zero value injects nothing.
type Faults struct {
	CreateOffer     error
	CreateAnswer    error
	SetLocal        error
	SetRemote       error
	AddTrack        error
	Close           error
	RejectCandidate func(*webrtc.ICECandidateInit) bool
	// RejectKinds makes the answer refuse sections of these kinds.
	RejectKinds     []webrtc.RTPCodecType
}

// Endpoint is a scripted rtc.Endpoint.
type Endpoint struct {
	leg    rtc.LegID
	side   rtc.Side
	faults Faults
	events *rtc.EventQueue

	// candidates is how many candidates each created description emits,
	// followed by the end-of-gathering marker.
	candidates int

	mu         sync.Mutex
	tracks     []webrtc.TrackLocal
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	accepted   []*webrtc.ICECandidateInit
	state      webrtc.PeerConnectionState
	closeCalls int
	emitted    int
}

var _ rtc.Endpoint = (*Endpoint)(nil)

// New creates a fake endpoint that emits two candidates per description.
func New(leg rtc.LegID, side rtc.Side, faults Faults) *Endpoint {
	return &Endpoint{
		leg:        leg,
		side:       side,
		faults:     faults,
		events:     rtc.NewEventQueue(),
		candidates: 2,
		state:      webrtc.PeerConnectionStateNew,
	}
}

func (e *Endpoint) Leg() rtc.LegID { return e.leg }
func (e *Endpoint) Side() rtc.Side { return e.side }

func (e *Endpoint) CreateOffer(opts rtc.OfferOptions) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if e.faults.CreateOffer != nil {
		return webrtc.SessionDescription{}, e.faults.CreateOffer
	}

	d, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	covered := map[webrtc.RTPCodecType]bool{}
	for i, t := range e.tracks {
		covered[t.Kind()] = true
		d.WithMedia(mediaSection(t.Kind(), fmt.Sprint(i), webrtc.RTPTransceiverDirectionSendrecv).
			WithValueAttribute("msid", t.StreamID()+" "+t.ID()))
	}
	for _, kind := range opts.Kinds() {
		if covered[kind] {
			continue
		}
		d.WithMedia(mediaSection(kind, fmt.Sprint(len(d.MediaDescriptions)), webrtc.RTPTransceiverDirectionRecvonly))
	}

	desc, err := marshal(webrtc.SDPTypeOffer, d)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	e.emitCandidates()
	return desc, nil
}

func (e *Endpoint) CreateAnswer(_ rtc.AnswerOptions) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if e.faults.CreateAnswer != nil {
		return webrtc.SessionDescription{}, e.faults.CreateAnswer
	}
	if e.remote == nil {
		return webrtc.SessionDescription{}, ErrNoRemoteDescription
	}

	sections, err := rtc.ParseMediaSections(*e.remote)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	d, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	for i, s := range sections {
		var md *sdp.MediaDescription
		switch {
		case e.rejects(s.Kind) || !s.Active():
			md = mediaSection(s.Kind, fmt.Sprint(i), webrtc.RTPTransceiverDirectionInactive)
			md.MediaName.Port.Value = 0
		case !s.Sends():
			// Nothing to send back on a receive-only offer section.
			md = mediaSection(s.Kind, fmt.Sprint(i), webrtc.RTPTransceiverDirectionInactive)
		default:
			md = mediaSection(s.Kind, fmt.Sprint(i), webrtc.RTPTransceiverDirectionRecvonly)
		}
		d.WithMedia(md)
	}

	desc, err := marshal(webrtc.SDPTypeAnswer, d)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	e.emitCandidates()
	return desc, nil
}

func (e *Endpoint) SetLocalDescription(desc webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed() {
		return ErrClosed
	}
	if e.faults.SetLocal != nil {
		return e.faults.SetLocal
	}
	e.local = &desc
	if desc.Type == webrtc.SDPTypeAnswer {
		e.emitTracks()
	}
	e.maybeConnect()
	return nil
}

func (e *Endpoint) SetRemoteDescription(desc webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed() {
		return ErrClosed
	}
	if e.faults.SetRemote != nil {
		return e.faults.SetRemote
	}
	if _, err := rtc.ParseMediaSections(desc); err != nil {
		return err
	}
	e.remote = &desc
	e.maybeConnect()
	return nil
}

func (e *Endpoint) AddICECandidate(c *webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed() {
		return ErrClosed
	}
	if e.remote == nil {
		return ErrNoRemoteDescription
	}
	if e.faults.RejectCandidate != nil && e.faults.RejectCandidate(c) {
		return fmt.Errorf("rejected candidate %s", rtc.CandidateString(c))
	}
	e.accepted = append(e.accepted, c)
	return nil
}

func (e *Endpoint) AddTrack(track webrtc.TrackLocal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed() {
		return ErrClosed
	}
	if e.faults.AddTrack != nil {
		return e.faults.AddTrack
	}
	e.tracks = append(e.tracks, track)
	return nil
}

func (e *Endpoint) Events() <-chan rtc.Event { return e.events.Events() }

func (e *Endpoint) ConnectionState() webrtc.PeerConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close marks the endpoint closed and ends its event stream. The injected
// Close fault is returned on every call, but the endpoint is closed anyway.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closeCalls++
	e.state = webrtc.PeerConnectionStateClosed
	e.mu.Unlock()

	e.events.Close()
	return e.faults.Close
}

// ---------------------------------------------------------------------------
// Test inspection
// ---------------------------------------------------------------------------

// Closed reports whether Close was called at least once.
func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeCalls > 0
}

// CloseCalls returns how many times Close was called.
func (e *Endpoint) CloseCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeCalls
}

// Accepted returns the peer candidates accepted so far, nil marker included.
func (e *Endpoint) Accepted() []*webrtc.ICECandidateInit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*webrtc.ICECandidateInit(nil), e.accepted...)
}

// Emitted returns how many candidate events (marker included) were emitted.
func (e *Endpoint) Emitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}

// Tracks returns the local tracks attached so far.
func (e *Endpoint) Tracks() []webrtc.TrackLocal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), e.tracks...)
}

// LocalDescription returns the applied local description, if any.
func (e *Endpoint) LocalDescription() *webrtc.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

// RemoteDescription returns the applied remote description, if any.
func (e *Endpoint) RemoteDescription() *webrtc.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// PushTrack injects a track event, as a repeated or changed remote stream.
func (e *Endpoint) PushTrack(stream rtc.StreamHandle) {
	e.events.Push(rtc.Event{Kind: rtc.EventTrack, Stream: stream})
}

// ---------------------------------------------------------------------------
// Helpers (callers hold e.mu)
// ---------------------------------------------------------------------------

func (e *Endpoint) closed() bool {
	return e.closeCalls > 0
}

func (e *Endpoint) rejects(kind webrtc.RTPCodecType) bool {
	for _, k := range e.faults.RejectKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (e *Endpoint) emitCandidates() {
	for i := 0; i < e.candidates; i++ {
		c := &webrtc.ICECandidateInit{
			Candidate: fmt.Sprintf("candidate:%s%s%d 1 udp 2130706431 127.0.0.1 %d typ host", e.leg, e.side, i, 50000+e.emitted),
		}
		e.events.Push(rtc.Event{Kind: rtc.EventCandidate, Candidate: c})
		e.emitted++
	}
	e.events.Push(rtc.Event{Kind: rtc.EventCandidate})
	e.emitted++
}

// emitTracks announces one track per sending section of the offer this
// endpoint answered, keyed by the section's msid stream.
func (e *Endpoint) emitTracks() {
	if e.remote == nil {
		return
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(e.remote.SDP)); err != nil {
		return
	}
	for _, md := range parsed.MediaDescriptions {
		msid, ok := md.Attribute("msid")
		if !ok || e.rejects(webrtc.NewRTPCodecType(md.MediaName.Media)) {
			continue
		}
		stream, track, _ := strings.Cut(msid, " ")
		e.events.Push(rtc.Event{Kind: rtc.EventTrack, Stream: rtc.StreamHandle{
			ID:      stream,
			TrackID: track,
			Kind:    webrtc.NewRTPCodecType(md.MediaName.Media),
		}})
	}
}

func (e *Endpoint) maybeConnect() {
	if e.local == nil || e.remote == nil || e.state == webrtc.PeerConnectionStateConnected {
		return
	}
	e.state = webrtc.PeerConnectionStateConnected
	e.events.Push(rtc.Event{Kind: rtc.EventState, State: webrtc.PeerConnectionStateConnecting})
	e.events.Push(rtc.Event{Kind: rtc.EventState, State: webrtc.PeerConnectionStateConnected})
}

func mediaSection(kind webrtc.RTPCodecType, mid string, dir webrtc.RTPTransceiverDirection) *sdp.MediaDescription {
	md := sdp.NewJSEPMediaDescription(kind.String(), nil).
		WithValueAttribute("mid", mid).
		WithPropertyAttribute(dir.String())
	if kind == webrtc.RTPCodecTypeAudio {
		return md.WithCodec(111, "opus", 48000, 2, "")
	}
	return md.WithCodec(96, "VP8", 90000, 0, "")
}

func marshal(typ webrtc.SDPType, d *sdp.SessionDescription) (webrtc.SessionDescription, error) {
	raw, err := d.Marshal()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: typ, SDP: string(raw)}, nil
}
