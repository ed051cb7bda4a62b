// Package wire implements the session protocol: UTF-8 JSON messages, each
// followed by a fixed delimiter, exchanged request/response over a byte
// stream. The same framing is used between the server and its worker
// processes.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyberinferno/envserver/ndarray"
	"github.com/cyberinferno/envserver/spaces"
)

// Command is the closed set of message tags.
type Command string

const (
	Init           Command = "init"
	Reset          Command = "reset"
	Step           Command = "step"
	Close          Command = "close"
	ShutDownServer Command = "shut_down_server"
	Confirm        Command = "confirm"
	Error          Command = "error"

	// ClaimWorkspace and Workspace only travel between the server and a
	// worker process.
	ClaimWorkspace Command = "claim_workspace"
	Workspace      Command = "workspace"
)

// ErrUnknownCommand is returned when a message carries a tag outside the
// protocol.
var ErrUnknownCommand = errors.New("unknown command")

// Valid reports whether c is a protocol tag.
func (c Command) Valid() bool {
	switch c {
	case Init, Reset, Step, Close, ShutDownServer, Confirm, Error, ClaimWorkspace, Workspace:
		return true
	}

	return false
}

// FromClient reports whether a remote client may send c.
func (c Command) FromClient() bool {
	switch c {
	case Init, Reset, Step, Close, ShutDownServer:
		return true
	}

	return false
}

// UnmarshalText rejects tags outside the protocol at decode time.
func (c *Command) UnmarshalText(text []byte) error {
	cmd := Command(text)
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, string(text))
	}

	*c = cmd
	return nil
}

// Message is one framed protocol message. Data holds the command-specific
// payload and is decoded with Decode.
type Message struct {
	Command Command         `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds a Message, encoding payload as its data. A nil payload
// produces a message without data.
func NewMessage(cmd Command, payload any) (*Message, error) {
	msg := &Message{Command: cmd}
	if payload == nil {
		return msg, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", cmd, err)
	}

	msg.Data = data
	return msg, nil
}

// ErrorMessage builds an error response carrying text.
func ErrorMessage(text string) *Message {
	data, _ := json.Marshal(ErrorResponse{Message: text})
	return &Message{Command: Error, Data: data}
}

// Decode unmarshals the message data into v. Missing data is an error.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return fmt.Errorf("%s message has no data", m.Command)
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Command, err)
	}

	return nil
}

// InitRequest is the data of an init command.
type InitRequest struct {
	Env    string         `json:"env"`
	Config map[string]any `json:"config,omitempty"`
}

// InitResponse describes the spaces of a freshly constructed environment.
type InitResponse struct {
	ObservationSpace spaces.Descriptor `json:"observation_space"`
	ActionSpace      spaces.Descriptor `json:"action_space"`
}

// ResetResponse carries the initial observation.
type ResetResponse struct {
	Observation ndarray.Array `json:"observation"`
}

// StepRequest carries one action.
type StepRequest struct {
	Action ndarray.Array `json:"action"`
}

// StepResponse is the outcome of one step.
type StepResponse struct {
	Observation ndarray.Array  `json:"observation"`
	Reward      float64        `json:"reward"`
	Done        bool           `json:"done"`
	Info        map[string]any `json:"info"`
}

// ErrorResponse is the data of an error response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// WorkspaceGrant answers a ClaimWorkspace request from a worker process.
type WorkspaceGrant struct {
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}
