package rtc

import (
	"errors"
	"net"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/multipc/internal/config"
	"github.com/1ureka/multipc/internal/util"
)

// NewAPI builds the pion API shared by all four endpoints of a call: default
// codecs and interceptors, pion logs routed to our logger, and candidate
// gathering restricted to loopback when both peers live in this process.
func NewAPI(cfg config.Config) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: util.NewLoggerFactory()}
	if cfg.LoopbackOnly {
		se.SetIncludeLoopbackCandidate(true)
		se.SetIPFilter(func(ip net.IP) bool { return ip.IsLoopback() })
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// PeerEndpoint is an Endpoint backed by a pion PeerConnection. Callbacks are
// registered once at construction and feed an EventQueue; nothing else ever
// touches the PeerConnection's handler slots.
type PeerEndpoint struct {
	leg  LegID
	side Side
	pc   *webrtc.PeerConnection

	events *EventQueue

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState

	closeOnce sync.Once
	closeErr  error
}

var _ Endpoint = (*PeerEndpoint)(nil)

// NewPeerEndpoint creates one side of a leg. The ICE server list is always
// empty: both sides share this process.
func NewPeerEndpoint(api *webrtc.API, leg LegID, side Side) (*PeerEndpoint, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}

	e := &PeerEndpoint{
		leg:     leg,
		side:    side,
		pc:      pc,
		events:  NewEventQueue(),
		pcState: webrtc.PeerConnectionStateNew,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			e.events.Push(Event{Kind: EventCandidate})
			return
		}
		init := c.ToJSON()
		e.events.Push(Event{Kind: EventCandidate, Candidate: &init})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.events.Push(Event{Kind: EventTrack, Stream: StreamHandle{
			ID:      track.StreamID(),
			TrackID: track.ID(),
			Kind:    track.Kind(),
		}})
		go drainTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("leg %s %s: connection state %s", leg, side, state)
		e.mu.Lock()
		e.pcState = state
		e.mu.Unlock()
		e.events.Push(Event{Kind: EventState, State: state})
	})

	return e, nil
}

func (e *PeerEndpoint) Leg() LegID { return e.leg }
func (e *PeerEndpoint) Side() Side { return e.side }

// CreateOffer adds a receive-only transceiver for every requested kind the
// endpoint has no transceiver for yet, then creates the offer.
func (e *PeerEndpoint) CreateOffer(opts OfferOptions) (webrtc.SessionDescription, error) {
	for _, kind := range opts.Kinds() {
		if e.hasTransceiver(kind) {
			continue
		}
		if _, err := e.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}
	return e.pc.CreateOffer(nil)
}

// CreateAnswer creates the answer. With no local senders pion answers every
// offered audio/video section as recvonly, which is what opts asks for; the
// caller verifies the result against the offer.
func (e *PeerEndpoint) CreateAnswer(_ AnswerOptions) (webrtc.SessionDescription, error) {
	return e.pc.CreateAnswer(nil)
}

func (e *PeerEndpoint) SetLocalDescription(desc webrtc.SessionDescription) error {
	return e.pc.SetLocalDescription(desc)
}

func (e *PeerEndpoint) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return e.pc.SetRemoteDescription(desc)
}

// AddICECandidate adds a peer candidate. The end-of-gathering marker needs
// no action: pion keeps checking the pairs it already has.
func (e *PeerEndpoint) AddICECandidate(candidate *webrtc.ICECandidateInit) error {
	if candidate == nil {
		return nil
	}
	return e.pc.AddICECandidate(*candidate)
}

// AddTrack attaches a local track and starts reading its RTCP so the
// interceptors keep running.
func (e *PeerEndpoint) AddTrack(track webrtc.TrackLocal) error {
	sender, err := e.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (e *PeerEndpoint) Events() <-chan Event {
	return e.events.Events()
}

// ConnectionState returns the last observed PeerConnection state.
func (e *PeerEndpoint) ConnectionState() webrtc.PeerConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pcState
}

// Close shuts down the PeerConnection and the event stream. Later calls
// return the first call's result.
func (e *PeerEndpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.pc.Close()
		e.events.Close()
		e.mu.Lock()
		e.pcState = webrtc.PeerConnectionStateClosed
		e.mu.Unlock()
	})
	return e.closeErr
}

func (e *PeerEndpoint) hasTransceiver(kind webrtc.RTPCodecType) bool {
	for _, t := range e.pc.GetTransceivers() {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

// drainTrack consumes inbound RTP until the track ends. Rendering is outside
// this process; only the byte count is kept.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				util.LogDebug("remote %s track %s ended: %v", track.Kind(), track.ID(), err)
			}
			return
		}
		util.Stats.AddMediaRecv(n)
	}
}
