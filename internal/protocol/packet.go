// Package protocol defines the JSON messages of the websocket control surface.
package protocol

// Command is an action requested by a control client.
type Command string

const (
	CmdStart  Command = "start"
	CmdCall   Command = "call"
	CmdHangup Command = "hangup"
	CmdState  Command = "state" // no action, reply with a snapshot
)

// Request is the only message a client sends.
type Request struct {
	Command Command `json:"command"`
}

// ReplyType identifies the kind of reply.
type ReplyType string

const (
	TypeState ReplyType = "state"
	TypeError ReplyType = "error"
)

// Controls mirrors which commands are currently enabled.
type Controls struct {
	Start  bool `json:"start"`
	Call   bool `json:"call"`
	Hangup bool `json:"hangup"`
}

// Leg is the presentation state of one leg.
type Leg struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Local  string `json:"local"`  // local endpoint connection state
	Remote string `json:"remote"` // remote endpoint connection state
}

// Reply is sent after every request. A failed command produces an error
// reply followed by a state reply.
type Reply struct {
	Type     ReplyType `json:"type"`
	State    string    `json:"state,omitempty"`
	CallID   string    `json:"callId,omitempty"`
	Controls *Controls `json:"controls,omitempty"`
	Legs     []Leg     `json:"legs,omitempty"`
	Error    string    `json:"error,omitempty"`
}
