package rtc

import (
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// MediaSection is the negotiation-relevant summary of one m= line.
type MediaSection struct {
	Kind      webrtc.RTPCodecType
	Direction webrtc.RTPTransceiverDirection
	Rejected  bool // port 0
}

// Active reports whether the section carries media in at least one direction.
func (m MediaSection) Active() bool {
	return !m.Rejected && m.Direction != webrtc.RTPTransceiverDirectionInactive
}

// ParseMediaSections extracts the audio and video sections of a description.
// Application (data channel) sections are skipped.
func ParseMediaSections(desc webrtc.SessionDescription) ([]MediaSection, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return nil, fmt.Errorf("parse %s: %w", desc.Type, err)
	}

	var sections []MediaSection
	for _, md := range parsed.MediaDescriptions {
		kind := webrtc.NewRTPCodecType(md.MediaName.Media)
		if kind == 0 {
			continue
		}

		direction := webrtc.RTPTransceiverDirectionSendrecv
		for _, attr := range md.Attributes {
			if d := webrtc.NewRTPTransceiverDirection(attr.Key); d != webrtc.RTPTransceiverDirectionUnknown {
				direction = d
			}
		}

		sections = append(sections, MediaSection{
			Kind:      kind,
			Direction: direction,
			Rejected:  md.MediaName.Port.Value == 0,
		})
	}
	return sections, nil
}

// Sends reports whether the section's owner sends media on it.
func (m MediaSection) Sends() bool {
	return m.Active() && (m.Direction == webrtc.RTPTransceiverDirectionSendrecv ||
		m.Direction == webrtc.RTPTransceiverDirectionSendonly)
}

// Receives reports whether the section's owner accepts media on it.
func (m MediaSection) Receives() bool {
	return m.Active() && (m.Direction == webrtc.RTPTransceiverDirectionSendrecv ||
		m.Direction == webrtc.RTPTransceiverDirectionRecvonly)
}

// CheckAnswerAccepts verifies that offer sends every required kind and that
// answer agrees to receive each of them. Sections the offer only receives on
// are not checked: an answerer without media leaves them inactive.
func CheckAnswerAccepts(offer, answer webrtc.SessionDescription, required []webrtc.RTPCodecType) error {
	offered, err := ParseMediaSections(offer)
	if err != nil {
		return err
	}
	answered, err := ParseMediaSections(answer)
	if err != nil {
		return err
	}
	if len(answered) != len(offered) {
		return fmt.Errorf("answer has %d media sections, offer has %d", len(answered), len(offered))
	}

	for _, kind := range required {
		sent, accepted := false, false
		for i, o := range offered {
			if o.Kind != kind || !o.Sends() {
				continue
			}
			sent = true
			if answered[i].Receives() {
				accepted = true
			}
		}
		switch {
		case !sent:
			return fmt.Errorf("offer does not send %s", kind)
		case !accepted:
			return fmt.Errorf("answer rejects offered %s", kind)
		}
	}
	return nil
}
