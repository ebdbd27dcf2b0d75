package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a Reply for a websocket text frame.
func Encode(r Reply) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest parses and validates a client frame.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("malformed request: %w", err)
	}
	switch req.Command {
	case CmdStart, CmdCall, CmdHangup, CmdState:
		return req, nil
	case "":
		return Request{}, fmt.Errorf("request has no command")
	default:
		return Request{}, fmt.Errorf("unknown command %q", req.Command)
	}
}

// StateReply builds a snapshot reply.
func StateReply(state, callID string, controls Controls, legs []Leg) Reply {
	return Reply{
		Type:     TypeState,
		State:    state,
		CallID:   callID,
		Controls: &controls,
		Legs:     legs,
	}
}

// ErrorReply reports a failed command.
func ErrorReply(err error) Reply {
	return Reply{Type: TypeError, Error: err.Error()}
}
