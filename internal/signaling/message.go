// Package signaling carries session descriptions and candidates between the
// two endpoints of one leg. There is no network hop: the Direct channel hands
// each message to the destination side's handler with a plain function call.
package signaling

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/multipc/internal/rtc"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
)

// Message is one unit exchanged between the sides of a leg.
type Message struct {
	Type MessageType
	Leg  rtc.LegID
	From rtc.Side

	Description *webrtc.SessionDescription // offer / answer
	Candidate   *webrtc.ICECandidateInit   // candidate; nil marks end of gathering
}

// To returns the side the message is addressed to.
func (m Message) To() rtc.Side {
	return m.From.Peer()
}

// OfferMessage wraps an offer produced by side from.
func OfferMessage(leg rtc.LegID, from rtc.Side, desc webrtc.SessionDescription) Message {
	return Message{Type: MsgTypeOffer, Leg: leg, From: from, Description: &desc}
}

// AnswerMessage wraps an answer produced by side from.
func AnswerMessage(leg rtc.LegID, from rtc.Side, desc webrtc.SessionDescription) Message {
	return Message{Type: MsgTypeAnswer, Leg: leg, From: from, Description: &desc}
}

// CandidateMessage wraps a candidate discovered by side from.
func CandidateMessage(leg rtc.LegID, from rtc.Side, c *webrtc.ICECandidateInit) Message {
	return Message{Type: MsgTypeCandidate, Leg: leg, From: from, Candidate: c}
}
