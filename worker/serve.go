package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/envserver/env"
	"github.com/cyberinferno/envserver/logger"
	"github.com/cyberinferno/envserver/wire"
)

// ErrParentGone is returned by a pipe workspace claim when the parent closed
// the stream before answering.
var ErrParentGone = errors.New("parent closed the worker pipe")

// ServeProcess is the body of a worker child process. It reads requests from
// in, writes responses to out, and returns once the runner has terminated.
// End of input counts as a termination command.
func ServeProcess(ctx context.Context, in io.Reader, out io.Writer, registry *env.Registry, log logger.Logger) error {
	if log == nil {
		log = logger.NewNopLogger()
	}

	enc := wire.NewEncoder(out)
	names := &pipeWorkspaces{
		enc:    enc,
		grants: make(chan wire.WorkspaceGrant, 1),
		closed: make(chan struct{}),
	}

	requests := make(chan *Request, 1)
	responses := make(chan *wire.Message, 1)

	go func() {
		defer close(requests)
		defer close(names.closed)

		dec := wire.NewDecoder(in, 0)
		for {
			msg, err := dec.Next()
			if err != nil {
				var decErr *wire.DecodeError
				if errors.As(err, &decErr) {
					log.Warn("malformed frame from parent", logger.Field{Key: "error", Value: err})
					_ = enc.Send(wire.ErrorMessage(err.Error()))
					continue
				}

				if !wire.IsDisconnect(err) {
					log.Warn("read from parent", logger.Field{Key: "error", Value: err})
				}
				return
			}

			if msg.Command == wire.Workspace {
				var grant wire.WorkspaceGrant
				if err := msg.Decode(&grant); err != nil {
					grant.Error = err.Error()
				}
				names.grants <- grant
				continue
			}

			req, err := RequestFromMessage(msg)
			if err != nil {
				_ = enc.Send(wire.ErrorMessage(err.Error()))
				continue
			}

			requests <- req
		}
	}()

	runner := &Runner{Registry: registry, Workspaces: names, Logger: log}
	go runner.Run(ctx, requests, responses)

	for msg := range responses {
		if err := enc.Send(msg); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	return nil
}

// pipeWorkspaces claims workspace names from the parent over the worker
// pipe.
type pipeWorkspaces struct {
	enc    *wire.Encoder
	grants chan wire.WorkspaceGrant
	closed chan struct{}
}

func (p *pipeWorkspaces) Claim(ctx context.Context) (string, error) {
	if err := p.enc.Send(&wire.Message{Command: wire.ClaimWorkspace}); err != nil {
		return "", err
	}

	select {
	case grant := <-p.grants:
		if grant.Error != "" {
			return "", errors.New(grant.Error)
		}
		return grant.Path, nil
	case <-p.closed:
		return "", ErrParentGone
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
