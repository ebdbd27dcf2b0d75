package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/multipc/internal/rtc"
)

var (
	ErrCrossLeg  = errors.New("message addressed to another leg")
	ErrNoHandler = errors.New("no handler for destination side")
)

// Channel is the bidirectional path between the two sides of a leg.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// Handler consumes the messages addressed to one side.
type Handler func(ctx context.Context, msg Message) error

// Direct is the in-process Channel: Send runs the destination handler on the
// caller's goroutine and returns its error.
type Direct struct {
	leg      rtc.LegID
	handlers map[rtc.Side]Handler
}

var _ Channel = (*Direct)(nil)

// NewDirect wires a leg's two sides. Handlers are fixed for the channel's
// lifetime.
func NewDirect(leg rtc.LegID, toLocal, toRemote Handler) *Direct {
	return &Direct{
		leg: leg,
		handlers: map[rtc.Side]Handler{
			rtc.SideLocal:  toLocal,
			rtc.SideRemote: toRemote,
		},
	}
}

// Send validates msg and delivers it to the side it is addressed to.
func (d *Direct) Send(ctx context.Context, msg Message) error {
	if msg.Leg != d.leg {
		return fmt.Errorf("%w: channel for leg %s, message for leg %s", ErrCrossLeg, d.leg, msg.Leg)
	}
	if err := validate(msg); err != nil {
		return err
	}

	h := d.handlers[msg.To()]
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, msg.To())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return h(ctx, msg)
}

func validate(msg Message) error {
	switch msg.Type {
	case MsgTypeOffer:
		return expectDescription(msg, webrtc.SDPTypeOffer)
	case MsgTypeAnswer:
		return expectDescription(msg, webrtc.SDPTypeAnswer)
	case MsgTypeCandidate:
		if msg.Description != nil {
			return errors.New("candidate message carries a description")
		}
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func expectDescription(msg Message, want webrtc.SDPType) error {
	if msg.Description == nil {
		return fmt.Errorf("%s message without description", msg.Type)
	}
	if msg.Description.Type != want {
		return fmt.Errorf("%s message carries %s description", msg.Type, msg.Description.Type)
	}
	return nil
}
