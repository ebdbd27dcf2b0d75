// Package rtc defines the endpoint abstraction every leg negotiates through,
// the error taxonomy shared by the call stack, and a pion-backed endpoint.
package rtc

import (
	"github.com/pion/webrtc/v4"
)

// LegID names one of the two independent local/remote pairs of a call.
type LegID string

const (
	LegA LegID = "A"
	LegB LegID = "B"
)

// Side identifies which half of a leg an endpoint is.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Peer returns the opposite side of the same leg.
func (s Side) Peer() Side {
	if s == SideLocal {
		return SideRemote
	}
	return SideLocal
}

// OfferOptions mirrors offerToReceiveAudio / offerToReceiveVideo: the offer
// advertises reception of each requested kind even with no local track of
// that kind.
type OfferOptions struct {
	ReceiveAudio bool
	ReceiveVideo bool
}

// AnswerOptions lists the kinds the answering endpoint must accept. The
// remote endpoint has no media of its own, so it answers receive-only.
type AnswerOptions struct {
	ReceiveAudio bool
	ReceiveVideo bool
}

// Kinds returns the media kinds the options ask to receive.
func (o OfferOptions) Kinds() []webrtc.RTPCodecType {
	return receiveKinds(o.ReceiveAudio, o.ReceiveVideo)
}

// Kinds returns the media kinds the options ask to receive.
func (o AnswerOptions) Kinds() []webrtc.RTPCodecType {
	return receiveKinds(o.ReceiveAudio, o.ReceiveVideo)
}

func receiveKinds(audio, video bool) []webrtc.RTPCodecType {
	var kinds []webrtc.RTPCodecType
	if audio {
		kinds = append(kinds, webrtc.RTPCodecTypeAudio)
	}
	if video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	return kinds
}

// StreamHandle identifies an inbound remote stream. ID is the stream
// identity used for change detection; TrackID and Kind describe the track
// whose arrival produced the handle.
type StreamHandle struct {
	ID      string
	TrackID string
	Kind    webrtc.RTPCodecType
}

// EventKind discriminates Event.
type EventKind int

const (
	EventCandidate EventKind = iota + 1
	EventTrack
	EventState
)

func (k EventKind) String() string {
	switch k {
	case EventCandidate:
		return "candidate"
	case EventTrack:
		return "track"
	case EventState:
		return "state"
	default:
		return "unknown"
	}
}

// Event is one notification produced by an endpoint.
//
//   - EventCandidate: Candidate is the discovered candidate, or nil when
//     gathering is complete.
//   - EventTrack: Stream describes the inbound media.
//   - EventState: State is the new transport connection state.
type Event struct {
	Kind      EventKind
	Candidate *webrtc.ICECandidateInit
	Stream    StreamHandle
	State     webrtc.PeerConnectionState
}

// Endpoint is one side of one leg.
//
// Implementations must tolerate concurrent calls from the owning session and
// from the event consumer; the session serializes negotiation calls itself.
// Events() is closed after Close returns.
type Endpoint interface {
	Leg() LegID
	Side() Side

	CreateOffer(opts OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(opts AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error

	// AddICECandidate accepts a candidate from the peer endpoint. A nil
	// candidate marks the end of the peer's gathering.
	AddICECandidate(candidate *webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error

	Events() <-chan Event
	ConnectionState() webrtc.PeerConnectionState
	Close() error
}
