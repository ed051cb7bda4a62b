package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/cyberinferno/envserver/logger"
	"github.com/cyberinferno/envserver/safemap"
	"github.com/cyberinferno/envserver/sequence"
)

const (
	DefaultMaxConnections = 10
	DefaultCapacityWait   = 30 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
)

// NewSessionFunc creates the Session for an accepted connection. local
// reports whether the peer is on the server's own host.
type NewSessionFunc func(id uint64, conn net.Conn, local bool) Session

// TCPServer accepts connections and hands each one to a Session running in
// its own goroutine. It admits at most MaxConnections live sessions and
// polls its stop signal between accepts, so Shutdown takes effect within one
// PollInterval.
type TCPServer struct {
	Logger     logger.Logger
	Name       string
	Addr       string
	NewSession NewSessionFunc

	// MaxConnections bounds concurrently live sessions. While the server is
	// full it waits up to CapacityWait, or until a session ends, before
	// checking again.
	MaxConnections int
	CapacityWait   time.Duration
	PollInterval   time.Duration

	listener *net.TCPListener
	ids      *sequence.Counter
	sessions *safemap.SafeMap[uint64, *entry]
	freed    chan struct{}

	setupOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

type entry struct {
	session Session
	done    chan struct{}
}

func (e *entry) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (s *TCPServer) setup() {
	s.setupOnce.Do(func() {
		if s.Logger == nil {
			s.Logger = logger.NewNopLogger()
		}
		if s.MaxConnections <= 0 {
			s.MaxConnections = DefaultMaxConnections
		}
		if s.CapacityWait <= 0 {
			s.CapacityWait = DefaultCapacityWait
		}
		if s.PollInterval <= 0 {
			s.PollInterval = DefaultPollInterval
		}

		s.ids = sequence.NewCounter(0)
		s.sessions = safemap.NewSafeMap[uint64, *entry]()
		s.freed = make(chan struct{}, 1)
		s.stop = make(chan struct{})
	})
}

// Listen binds Addr. It must be called once, before Serve.
//
// Returns:
//   - An error if the server is already listening or binding fails
func (s *TCPServer) Listen() error {
	s.setup()

	if s.listener != nil {
		return fmt.Errorf("server %s already listening", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.listener = ln.(*net.TCPListener)
	s.Logger.Info(fmt.Sprintf("%s server listening", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	return nil
}

// ListenAddr returns the bound address, or nil before Listen.
func (s *TCPServer) ListenAddr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Serve runs the accept loop until Shutdown, then closes the listener. It
// does not wait for sessions; use Wait for that.
func (s *TCPServer) Serve() error {
	s.setup()

	if s.listener == nil {
		return fmt.Errorf("server %s is not listening", s.Name)
	}
	defer s.listener.Close()

	live := 0
	for !s.Stopping() {
		if n := s.prune(); n != live {
			live = n
			s.Logger.Info("live connections", logger.Field{Key: "count", Value: n}, logger.Field{Key: "sessions", Value: s.LiveIDs()})
		}

		if live >= s.MaxConnections {
			s.Logger.Debug("connection limit reached, waiting", logger.Field{Key: "max", Value: s.MaxConnections})
			s.waitForCapacity()
			continue
		}

		if err := s.listener.SetDeadline(time.Now().Add(s.PollInterval)); err != nil {
			return fmt.Errorf("server %s set accept deadline: %w", s.Name, err)
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			if s.Stopping() || errors.Is(err, net.ErrClosed) {
				break
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err})
			continue
		}

		s.start(conn)
		live++
	}

	s.Logger.Info(fmt.Sprintf("%s server stopped accepting", s.Name))
	return nil
}

func (s *TCPServer) waitForCapacity() {
	timer := time.NewTimer(s.CapacityWait)
	defer timer.Stop()

	select {
	case <-s.stop:
	case <-s.freed:
	case <-timer.C:
	}
}

func (s *TCPServer) start(conn net.Conn) {
	id := s.ids.Next()
	local := IsLocal(s.listener.Addr(), conn.RemoteAddr())
	session := s.NewSession(id, conn, local)

	e := &entry{session: session, done: make(chan struct{})}
	s.sessions.Store(id, e)

	s.Logger.Info("connection accepted",
		logger.Field{Key: "session", Value: id},
		logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
		logger.Field{Key: "local", Value: local},
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			close(e.done)
			select {
			case s.freed <- struct{}{}:
			default:
			}
		}()

		session.Handle()
	}()
}

// prune drops finished sessions and returns the live count.
func (s *TCPServer) prune() int {
	s.sessions.DeleteFunc(func(_ uint64, e *entry) bool {
		return e.finished()
	})

	return s.sessions.Len()
}

// LiveCount returns the number of sessions whose Handle has not returned.
func (s *TCPServer) LiveCount() int {
	s.setup()

	n := 0
	s.sessions.Range(func(_ uint64, e *entry) bool {
		if !e.finished() {
			n++
		}
		return true
	})

	return n
}

// LiveIDs returns the ids of live sessions in ascending order.
func (s *TCPServer) LiveIDs() []uint64 {
	s.setup()

	var ids []uint64
	s.sessions.Range(func(_ uint64, e *entry) bool {
		if !e.finished() {
			ids = append(ids, e.session.ID())
		}
		return true
	})

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Shutdown signals the accept loop and every session to stop. It is safe to
// call more than once and from any goroutine.
func (s *TCPServer) Shutdown() {
	s.setup()

	s.stopOnce.Do(func() {
		s.Logger.Info(fmt.Sprintf("%s server shutting down", s.Name))
		close(s.stop)
	})
}

// Done is closed once Shutdown has been called.
func (s *TCPServer) Done() <-chan struct{} {
	s.setup()
	return s.stop
}

// Stopping reports whether Shutdown has been called.
func (s *TCPServer) Stopping() bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

// Wait blocks until every session's Handle has returned.
func (s *TCPServer) Wait() {
	s.wg.Wait()
}

// IsLocal reports whether peer is on the same host as a server bound to
// bind: the addresses match, or the server listens on every interface and
// the peer is a loopback address.
func IsLocal(bind, peer net.Addr) bool {
	bindIP, peerIP := addrIP(bind), addrIP(peer)
	if bindIP == nil || peerIP == nil {
		return false
	}

	if bindIP.Equal(peerIP) {
		return true
	}

	return bindIP.IsUnspecified() && peerIP.IsLoopback()
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.IP
	case nil:
		return nil
	default:
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}
