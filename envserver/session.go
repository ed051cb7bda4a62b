package envserver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cyberinferno/envserver/history"
	"github.com/cyberinferno/envserver/logger"
	"github.com/cyberinferno/envserver/wire"
	"github.com/cyberinferno/envserver/worker"
)

// Reasons recorded when a session ends.
const (
	ReasonClientClosed   = "client closed"
	ReasonWorkerExited   = "worker exited"
	ReasonServerStopping = "server stopping"
	ReasonShutdown       = "shutdown requested"
	ReasonLaunchFailed   = "worker launch failed"
	ReasonTransportError = "transport error"
)

// Session bridges one client connection and its worker.
type Session struct {
	id    uint64
	conn  net.Conn
	local bool

	ctx          context.Context
	launcher     worker.Launcher
	stop         <-chan struct{}
	shutdown     func()
	history      history.Store
	pollInterval time.Duration
	writeTimeout time.Duration
	log          logger.Logger

	dec    *wire.Decoder
	enc    *wire.Encoder
	record history.Record
}

func (s *Session) ID() uint64 {
	return s.id
}

// Handle runs the session until the client leaves, the worker terminates or
// the server stops.
func (s *Session) Handle() {
	s.record = history.Record{
		ID:      s.id,
		Remote:  s.conn.RemoteAddr().String(),
		Local:   s.local,
		Started: time.Now(),
	}
	defer s.finish()

	s.dec = wire.NewDecoder(s.conn, 0)
	s.enc = wire.NewEncoder(s.conn)

	proc, err := s.launcher.Launch(s.ctx, s.id)
	if err != nil {
		s.log.Error("launch worker", logger.Field{Key: "error", Value: err})
		s.record.Reason = ReasonLaunchFailed
		return
	}
	defer s.release(proc)

	s.record.Reason = s.serve(proc)
}

// serve forwards requests until the session ends and returns why it ended.
func (s *Session) serve(proc worker.Process) string {
	for {
		select {
		case <-s.stop:
			return ReasonServerStopping
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.pollInterval)); err != nil {
			s.log.Warn("set read deadline", logger.Field{Key: "error", Value: err})
			return ReasonTransportError
		}

		msg, err := s.dec.Next()
		if err != nil {
			if wire.IsTimeout(err) {
				continue
			}

			var decErr *wire.DecodeError
			if errors.As(err, &decErr) {
				s.log.Warn("malformed message", logger.Field{Key: "error", Value: err})
				if !s.reject(err) {
					return ReasonTransportError
				}
				continue
			}

			if wire.IsDisconnect(err) {
				s.log.Info("client disconnected")
				return ReasonClientClosed
			}

			s.log.Warn("read failed", logger.Field{Key: "error", Value: err})
			if errors.Is(err, wire.ErrFrameTooLarge) {
				s.reject(err)
			}
			return ReasonTransportError
		}

		req, err := worker.RequestFromMessage(msg)
		if err != nil {
			s.log.Warn("rejected message", logger.Field{Key: "command", Value: msg.Command}, logger.Field{Key: "error", Value: err})
			if !s.reject(err) {
				return ReasonTransportError
			}
			continue
		}

		s.record.Requests++
		if req.Command == wire.Init && req.Init != nil {
			s.record.Env = req.Init.Env
		}

		resp, ok := s.exchange(proc, req)
		if !ok {
			select {
			case <-s.stop:
				return ReasonServerStopping
			default:
			}
			return s.workerGone(req.Command)
		}

		if resp.Command == wire.Error {
			s.record.Errors++
		}

		if err := s.send(resp); err != nil {
			s.log.Warn("write failed", logger.Field{Key: "error", Value: err})
			return ReasonTransportError
		}
	}
}

// exchange hands req to the worker and waits for its response. ok is false
// when the worker terminated instead of answering, or the server is
// stopping.
func (s *Session) exchange(proc worker.Process, req *worker.Request) (*wire.Message, bool) {
	proc.Requests() <- req

	select {
	case resp, ok := <-proc.Responses():
		return resp, ok && resp != nil
	case <-s.stop:
		return nil, false
	}
}

func (s *Session) workerGone(last wire.Command) string {
	if last != wire.ShutDownServer {
		if last == wire.Close {
			return ReasonClientClosed
		}
		s.log.Warn("worker exited unexpectedly", logger.Field{Key: "command", Value: last})
		return ReasonWorkerExited
	}

	if !s.local {
		s.log.Warn("ignoring shutdown request from remote host")
		return ReasonClientClosed
	}

	s.log.Info("shutdown requested by local client")
	s.shutdown()
	return ReasonShutdown
}

// reject answers a message that was not forwarded. It returns false if the
// reply could not be written.
func (s *Session) reject(cause error) bool {
	if err := s.send(wire.ErrorMessage(cause.Error())); err != nil {
		s.log.Warn("write failed", logger.Field{Key: "error", Value: err})
		return false
	}

	s.record.Errors++
	return true
}

func (s *Session) send(msg *wire.Message) error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}

	return s.enc.Send(msg)
}

// release terminates the worker and waits for it to exit.
func (s *Session) release(proc worker.Process) {
	close(proc.Requests())

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range proc.Responses() {
		}
	}()

	if err := proc.Wait(); err != nil {
		s.log.Warn("worker exited with error", logger.Field{Key: "error", Value: err})
	}
	<-drained

	s.log.Debug("worker joined")
}

func (s *Session) finish() {
	s.record.Ended = time.Now()
	if s.history != nil {
		if err := s.history.Add(context.Background(), s.record); err != nil {
			s.log.Warn("record session", logger.Field{Key: "error", Value: err})
		}
	}

	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("close connection", logger.Field{Key: "error", Value: err})
	}

	s.log.Info("session ended",
		logger.Field{Key: "reason", Value: s.record.Reason},
		logger.Field{Key: "requests", Value: s.record.Requests},
		logger.Field{Key: "duration", Value: s.record.Duration().String()},
	)
}
