// Package envserver serves simulation environments to remote clients. Every
// connection gets its own worker that owns one environment for the life of
// the connection.
package envserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/envserver/config"
	"github.com/cyberinferno/envserver/env"
	"github.com/cyberinferno/envserver/history"
	"github.com/cyberinferno/envserver/logger"
	"github.com/cyberinferno/envserver/namealloc"
	"github.com/cyberinferno/envserver/tcpserver"
	"github.com/cyberinferno/envserver/worker"
)

// WorkerCommand is the subcommand the server binary runs as in worker mode.
const WorkerCommand = "worker"

// Server accepts connections and runs one worker per session.
type Server struct {
	cfg      config.Config
	log      logger.Logger
	runID    string
	registry *env.Registry
	names    *namealloc.Allocator
	launcher worker.Launcher
	history  *history.MemoryStore
	tcp      *tcpserver.TCPServer

	workerPath string
	workerEnv  []string

	ctx context.Context
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithRegistry sets the environments available in goroutine mode. Worker
// processes always use the registry compiled into their binary.
func WithRegistry(r *env.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithLauncher replaces the launcher selected by cfg.WorkerMode.
func WithLauncher(l worker.Launcher) Option {
	return func(s *Server) {
		s.launcher = l
	}
}

// WithWorkerExecutable runs process-mode workers from path instead of the
// current executable, with env added to their environment.
func WithWorkerExecutable(path string, env ...string) Option {
	return func(s *Server) {
		s.workerPath = path
		s.workerEnv = env
	}
}

// New builds a Server from cfg. Nothing is started until Listen or Run.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		runID:    uuid.NewString(),
		registry: env.Default,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = logger.NewNopLogger()
	}
	s.log = s.log.With(logger.Field{Key: "run", Value: s.runID})

	s.names = namealloc.New(namealloc.Config{
		BaseDir:  cfg.WorkspaceDir,
		Capacity: cfg.NameQueueSize,
		Backoff:  cfg.NameBackoff,
		Logger:   s.log.With(logger.Field{Key: "component", Value: "namealloc"}),
	})

	if s.launcher == nil {
		launcher, err := s.newLauncher()
		if err != nil {
			return nil, err
		}
		s.launcher = launcher
	}

	ttl := cfg.HistoryTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	s.history = history.NewMemoryStore(ttl, ttl)

	s.tcp = &tcpserver.TCPServer{
		Logger:         s.log,
		Name:           "envserver",
		Addr:           cfg.Addr(),
		MaxConnections: cfg.MaxConnections,
		CapacityWait:   cfg.CapacityWait,
		PollInterval:   cfg.PollInterval,
		NewSession:     s.newSession,
	}

	return s, nil
}

func (s *Server) newLauncher() (worker.Launcher, error) {
	log := s.log.With(logger.Field{Key: "component", Value: "worker"})

	switch s.cfg.WorkerMode {
	case config.ModeGoroutine:
		return &worker.GoroutineLauncher{Runner: worker.Runner{
			Registry:   s.registry,
			Workspaces: s.names,
			Logger:     log,
		}}, nil
	case config.ModeProcess:
		args := []string{WorkerCommand, "--log-level", s.cfg.Log.Level}
		return &worker.ExecLauncher{
			Path:        s.workerPath,
			Args:        args,
			Env:         s.workerEnv,
			Names:       s.names,
			JoinTimeout: s.cfg.WorkerJoinTimeout,
			Logger:      log,
		}, nil
	default:
		return nil, fmt.Errorf("unknown worker mode %q", s.cfg.WorkerMode)
	}
}

func (s *Server) newSession(id uint64, conn net.Conn, local bool) tcpserver.Session {
	return &Session{
		id:           id,
		conn:         conn,
		local:        local,
		ctx:          s.ctx,
		launcher:     s.launcher,
		stop:         s.tcp.Done(),
		shutdown:     s.Shutdown,
		history:      s.history,
		pollInterval: s.cfg.PollInterval,
		writeTimeout: s.cfg.WriteTimeout,
		log:          s.log.With(logger.Field{Key: "session", Value: id}),
	}
}

// Listen binds the configured address. Run calls it if it was not called
// before.
func (s *Server) Listen() error {
	return s.tcp.Listen()
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	return s.tcp.ListenAddr()
}

// Run fills the workspace name queue, serves connections until ctx is done
// or a local client asks for shutdown, then stops the name allocator, joins
// every session and its worker, and joins the allocator.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx

	s.names.Start()

	if s.tcp.ListenAddr() == nil {
		if err := s.Listen(); err != nil {
			s.names.Stop()
			s.names.Wait()
			return err
		}
	}

	s.log.Info("server running",
		logger.Field{Key: "addr", Value: s.Addr().String()},
		logger.Field{Key: "max_connections", Value: s.cfg.MaxConnections},
		logger.Field{Key: "worker_mode", Value: string(s.cfg.WorkerMode)},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.tcp.Shutdown()
		return s.tcp.Serve()
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			s.tcp.Shutdown()
		case <-s.tcp.Done():
		}
		return nil
	})

	err := g.Wait()

	s.names.Stop()
	if ids := s.launcher.Workers(); len(ids) > 0 {
		s.log.Info("waiting for workers", logger.Field{Key: "workers", Value: ids})
	}
	s.tcp.Wait()
	s.names.Wait()

	s.logHistory()
	s.log.Info("server stopped", logger.Field{Key: "names_issued", Value: s.names.Issued()})
	return err
}

// Shutdown asks Run to stop. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.tcp.Shutdown()
}

// Done is closed once shutdown has begun.
func (s *Server) Done() <-chan struct{} {
	return s.tcp.Done()
}

// LiveSessions returns the number of connections being served.
func (s *Server) LiveSessions() int {
	return s.tcp.LiveCount()
}

// ActiveWorkers returns the number of workers that have not exited.
func (s *Server) ActiveWorkers() int {
	return s.launcher.Active()
}

// Workers returns the ids of sessions whose worker is still running.
func (s *Server) Workers() []uint64 {
	return s.launcher.Workers()
}

// History returns the records of finished sessions that have not expired.
func (s *Server) History() []history.Record {
	records, err := s.history.List(context.Background())
	if err != nil {
		s.log.Warn("list history", logger.Field{Key: "error", Value: err})
	}
	return records
}

// RunID identifies this server run in logs.
func (s *Server) RunID() string {
	return s.runID
}

func (s *Server) logHistory() {
	for _, r := range s.History() {
		s.log.Info("session summary",
			logger.Field{Key: "session", Value: r.ID},
			logger.Field{Key: "remote", Value: r.Remote},
			logger.Field{Key: "env", Value: r.Env},
			logger.Field{Key: "requests", Value: r.Requests},
			logger.Field{Key: "errors", Value: r.Errors},
			logger.Field{Key: "reason", Value: r.Reason},
		)
	}
}
