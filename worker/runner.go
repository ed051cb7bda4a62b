// Package worker hosts one environment per session and executes its
// commands in order. A worker runs either as a goroutine or as a separate
// OS process speaking the wire protocol over its stdin and stdout.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyberinferno/envserver/env"
	"github.com/cyberinferno/envserver/logger"
	"github.com/cyberinferno/envserver/wire"
)

// State is the lifecycle position of a worker's environment.
type State int

const (
	Uninitialized State = iota
	Initialized
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// WorkspaceSource hands out unique workspace directory names.
type WorkspaceSource interface {
	Claim(ctx context.Context) (string, error)
}

// Runner executes requests against a single environment.
type Runner struct {
	Registry   *env.Registry
	Workspaces WorkspaceSource
	Logger     logger.Logger
}

type session struct {
	ctx        context.Context
	registry   *env.Registry
	workspaces WorkspaceSource
	log        logger.Logger

	env   env.Env
	state State
}

// Run consumes requests until a close or shut_down_server command, until
// requests is closed, or until ctx is done. Every request gets exactly one
// response; terminal requests are answered by closing responses, which is
// also how the caller learns that the worker is gone.
func (r *Runner) Run(ctx context.Context, requests <-chan *Request, responses chan<- *wire.Message) {
	s := &session{
		ctx:        ctx,
		registry:   r.Registry,
		workspaces: r.Workspaces,
		log:        r.Logger,
	}
	if s.registry == nil {
		s.registry = env.Default
	}
	if s.log == nil {
		s.log = logger.NewNopLogger()
	}

	defer close(responses)
	defer s.shutdown()

	for {
		var req *Request
		var ok bool

		select {
		case req, ok = <-requests:
		case <-ctx.Done():
			s.log.Debug("worker cancelled")
			return
		}

		if !ok {
			s.log.Debug("request queue closed")
			return
		}

		if req.Terminal() {
			s.log.Debug("worker terminating", logger.Field{Key: "command", Value: req.Command})
			return
		}

		select {
		case responses <- s.handle(req):
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) handle(req *Request) (resp *wire.Message) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("environment panicked", logger.Field{Key: "command", Value: req.Command}, logger.Field{Key: "panic", Value: p})
			resp = wire.ErrorMessage(fmt.Sprintf("%s failed: %v", req.Command, p))
		}
	}()

	var (
		payload any
		err     error
	)

	switch req.Command {
	case wire.Init:
		payload, err = s.initEnv(req.Init)
	case wire.Reset:
		payload, err = s.reset()
	case wire.Step:
		payload, err = s.step(req)
	default:
		err = fmt.Errorf("%w: %s", ErrUnexpectedCommand, req.Command)
	}

	if err != nil {
		s.log.Warn("command failed", logger.Field{Key: "command", Value: req.Command}, logger.Field{Key: "error", Value: err})
		return wire.ErrorMessage(err.Error())
	}

	msg, err := wire.NewMessage(wire.Confirm, payload)
	if err != nil {
		s.log.Error("encode response", logger.Field{Key: "command", Value: req.Command}, logger.Field{Key: "error", Value: err})
		return wire.ErrorMessage(err.Error())
	}

	return msg
}

func (s *session) initEnv(req *wire.InitRequest) (*wire.InitResponse, error) {
	if s.state != Uninitialized {
		return nil, fmt.Errorf("environment already initialized")
	}

	spec, ok := s.registry.Lookup(req.Env)
	if !ok {
		return nil, fmt.Errorf("%w: %q", env.ErrUnknownEnv, req.Env)
	}

	config := make(map[string]any, len(req.Config)+1)
	for k, v := range req.Config {
		config[k] = v
	}

	if spec.Workspace {
		dir, err := s.claimWorkspace()
		if err != nil {
			return nil, err
		}
		config[env.WorkingDirKey] = dir
	}

	e, err := s.registry.Make(req.Env, config)
	if err != nil {
		return nil, err
	}

	s.env = e
	s.state = Initialized
	s.log.Info("environment initialized", logger.Field{Key: "env", Value: req.Env})

	return &wire.InitResponse{
		ObservationSpace: e.ObservationSpace().Descriptor(),
		ActionSpace:      e.ActionSpace().Descriptor(),
	}, nil
}

func (s *session) claimWorkspace() (string, error) {
	if s.workspaces == nil {
		return "", fmt.Errorf("no workspace source configured")
	}

	dir, err := s.workspaces.Claim(s.ctx)
	if err != nil {
		return "", fmt.Errorf("claim workspace: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", fmt.Errorf("create workspace parent: %w", err)
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	s.log.Debug("workspace created", logger.Field{Key: "dir", Value: dir})
	return dir, nil
}

func (s *session) reset() (*wire.ResetResponse, error) {
	if s.state == Uninitialized {
		return nil, fmt.Errorf("reset before init")
	}

	obs, err := s.env.Reset()
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	s.state = Ready
	return &wire.ResetResponse{Observation: obs}, nil
}

func (s *session) step(req *Request) (*wire.StepResponse, error) {
	switch s.state {
	case Uninitialized:
		return nil, fmt.Errorf("step before init")
	case Initialized:
		return nil, fmt.Errorf("step before reset")
	}

	res, err := s.env.Step(req.Action)
	if err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}

	info := res.Info
	if info == nil {
		info = map[string]any{}
	}

	return &wire.StepResponse{
		Observation: res.Observation,
		Reward:      res.Reward,
		Done:        res.Done,
		Info:        info,
	}, nil
}

func (s *session) shutdown() {
	if s.env == nil {
		s.state = Closed
		return
	}

	defer func() {
		if p := recover(); p != nil {
			s.log.Error("environment panicked on close", logger.Field{Key: "panic", Value: p})
		}
	}()

	if err := s.env.Close(); err != nil {
		s.log.Warn("close environment", logger.Field{Key: "error", Value: err})
	}

	s.env = nil
	s.state = Closed
}
