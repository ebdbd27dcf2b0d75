package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// CaptureError reports that the media source could not provide a stream
// (device missing or permission denied). Starting a call can be retried.
type CaptureError struct {
	Audio bool
	Video bool
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture (audio=%t, video=%t): %v", e.Audio, e.Video, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Step names the negotiation step that failed.
type Step string

const (
	StepCreateEndpoints   Step = "create-endpoints"
	StepAttachTracks      Step = "attach-tracks"
	StepCreateOffer       Step = "create-offer"
	StepApplyOfferLocal   Step = "apply-offer-local"
	StepApplyOfferRemote  Step = "apply-offer-remote"
	StepCreateAnswer      Step = "create-answer"
	StepValidateAnswer    Step = "validate-answer"
	StepApplyAnswerRemote Step = "apply-answer-remote"
	StepApplyAnswerLocal  Step = "apply-answer-local"
)

// NegotiationError is fatal to the leg it names and to no other leg.
type NegotiationError struct {
	Leg  LegID
	Step Step
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("leg %s: %s: %v", e.Leg, e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// CandidateError reports that a destination endpoint rejected one candidate.
// It is never fatal; connectivity may still succeed through other candidates.
type CandidateError struct {
	Leg       LegID
	Dest      Side
	Candidate *webrtc.ICECandidateInit
	Err       error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("leg %s: add candidate %s to %s endpoint: %v", e.Leg, CandidateString(e.Candidate), e.Dest, e.Err)
}

func (e *CandidateError) Unwrap() error { return e.Err }

// CandidateString renders a candidate for logs, "(null)" for the
// end-of-gathering marker.
func CandidateString(c *webrtc.ICECandidateInit) string {
	if c == nil {
		return "(null)"
	}
	return c.Candidate
}
