package worker

import (
	"errors"
	"fmt"

	"github.com/cyberinferno/envserver/ndarray"
	"github.com/cyberinferno/envserver/wire"
)

// ErrUnexpectedCommand is returned for a tag a client is not allowed to send.
var ErrUnexpectedCommand = errors.New("unexpected command")

// Request is a decoded client command with its payload translated into
// native values.
type Request struct {
	Command wire.Command
	Init    *wire.InitRequest
	Action  ndarray.Array
}

// RequestFromMessage validates msg and translates its payload.
func RequestFromMessage(msg *wire.Message) (*Request, error) {
	if !msg.Command.FromClient() {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedCommand, msg.Command)
	}

	req := &Request{Command: msg.Command}
	switch msg.Command {
	case wire.Init:
		var payload wire.InitRequest
		if err := msg.Decode(&payload); err != nil {
			return nil, err
		}
		if payload.Env == "" {
			return nil, fmt.Errorf("init message names no environment")
		}
		req.Init = &payload
	case wire.Step:
		var step wire.StepRequest
		if err := msg.Decode(&step); err != nil {
			return nil, err
		}
		req.Action = step.Action
	}

	return req, nil
}

// Message converts the request back to its wire form.
func (r *Request) Message() (*wire.Message, error) {
	switch r.Command {
	case wire.Init:
		return wire.NewMessage(wire.Init, r.Init)
	case wire.Step:
		return wire.NewMessage(wire.Step, wire.StepRequest{Action: r.Action})
	default:
		return &wire.Message{Command: r.Command}, nil
	}
}

// Terminal reports whether the request ends the worker.
func (r *Request) Terminal() bool {
	return r.Command == wire.Close || r.Command == wire.ShutDownServer
}
