package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/cyberinferno/envserver/logger"
	"github.com/cyberinferno/envserver/wire"
)

// DefaultJoinTimeout bounds how long Wait lets a worker process exit on its
// own before its process group is killed.
const DefaultJoinTimeout = 5 * time.Second

// ExecLauncher runs each worker as a child process, normally the server
// binary re-executed with the hidden worker subcommand. Requests and
// responses travel as wire frames over the child's stdin and stdout; the
// child's stderr is passed through.
type ExecLauncher struct {
	Path string
	Args []string

	// Env is appended to the current environment of the child.
	Env []string

	// Names answers workspace claims made by children.
	Names WorkspaceSource

	JoinTimeout time.Duration
	Stderr      io.Writer
	Logger      logger.Logger

	tracker
}

type execProcess struct {
	cmd       *exec.Cmd
	log       logger.Logger
	enc       *wire.Encoder
	requests  chan *Request
	responses chan *wire.Message
	timeout   time.Duration

	exited  chan struct{}
	waitErr error
}

// Launch starts one worker process.
func (l *ExecLauncher) Launch(ctx context.Context, id uint64) (Process, error) {
	log := l.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.With(logger.Field{Key: "worker", Value: id})

	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker executable: %w", err)
		}
		path = exe
	}

	cmd := exec.Command(path, l.Args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	configureProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	timeout := l.JoinTimeout
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}

	p := &execProcess{
		cmd:       cmd,
		log:       log,
		enc:       wire.NewEncoder(stdin),
		requests:  make(chan *Request, 1),
		responses: make(chan *wire.Message, 1),
		timeout:   timeout,
		exited:    make(chan struct{}),
	}

	l.live.Add(id)
	log.Debug("worker process started", logger.Field{Key: "pid", Value: cmd.Process.Pid})

	go p.writeLoop(stdin)
	go func() {
		defer l.live.Remove(id)
		p.readLoop(ctx, stdout, l.Names)
		p.reap()
	}()

	return p, nil
}

func (p *execProcess) Requests() chan<- *Request {
	return p.requests
}

func (p *execProcess) Responses() <-chan *wire.Message {
	return p.responses
}

// Wait gives the process JoinTimeout to exit after its request queue was
// closed, then kills its process group.
func (p *execProcess) Wait() error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-p.exited:
	case <-timer.C:
		p.log.Warn("worker did not exit, killing process group", logger.Field{Key: "pid", Value: p.cmd.Process.Pid})
		if err := killProcessGroup(p.cmd); err != nil {
			p.log.Error("kill worker", logger.Field{Key: "error", Value: err})
		}
		<-p.exited
	}

	return p.waitErr
}

// writeLoop forwards requests to the child until the queue is closed, then
// closes stdin so the child sees end of stream.
func (p *execProcess) writeLoop(stdin io.WriteCloser) {
	defer stdin.Close()

	for req := range p.requests {
		msg, err := req.Message()
		if err == nil {
			err = p.enc.Send(msg)
		}
		if err != nil && !wire.IsDisconnect(err) {
			p.log.Warn("send to worker", logger.Field{Key: "command", Value: req.Command}, logger.Field{Key: "error", Value: err})
		}
	}
}

// readLoop delivers responses until the child closes stdout, answering
// workspace claims on the way.
func (p *execProcess) readLoop(ctx context.Context, stdout io.Reader, names WorkspaceSource) {
	defer close(p.responses)

	dec := wire.NewDecoder(stdout, 0)
	for {
		msg, err := dec.Next()
		if err != nil {
			var decErr *wire.DecodeError
			if errors.As(err, &decErr) {
				p.log.Warn("malformed frame from worker", logger.Field{Key: "error", Value: err})
				continue
			}

			if !wire.IsDisconnect(err) {
				p.log.Warn("read from worker", logger.Field{Key: "error", Value: err})
			}
			return
		}

		if msg.Command == wire.ClaimWorkspace {
			p.grantWorkspace(ctx, names)
			continue
		}

		p.responses <- msg
	}
}

func (p *execProcess) grantWorkspace(ctx context.Context, names WorkspaceSource) {
	var grant wire.WorkspaceGrant
	if names == nil {
		grant.Error = "no workspace source configured"
	} else if name, err := names.Claim(ctx); err != nil {
		grant.Error = err.Error()
	} else {
		grant.Path = name
	}

	msg, err := wire.NewMessage(wire.Workspace, grant)
	if err == nil {
		err = p.enc.Send(msg)
	}
	if err != nil {
		p.log.Warn("send workspace grant", logger.Field{Key: "error", Value: err})
	}
}

func (p *execProcess) reap() {
	err := p.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.log.Warn("worker process exited", logger.Field{Key: "code", Value: exitErr.ExitCode()})
		}
	} else {
		p.log.Debug("worker process exited")
	}

	p.waitErr = err
	close(p.exited)
}
