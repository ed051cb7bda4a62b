// Package envclient drives a remote environment served by envserver. A Client
// owns one connection, and therefore one server-side environment, for its
// whole life.
package envclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/envserver/ndarray"
	"github.com/cyberinferno/envserver/spaces"
	"github.com/cyberinferno/envserver/wire"
)

// ErrClosed is returned by every call on a client whose connection is gone.
var ErrClosed = errors.New("client is closed")

// RemoteError is a non-confirm answer from the server.
type RemoteError struct {
	Command wire.Command
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote error: %s", e.Command, e.Message)
}

// State is the connection state of a Client.
type State int

const (
	Connected    State = iota // Session is usable
	Disconnected              // Server or network dropped the connection
	Closed                    // Close was called
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config holds connection settings for a Client.
type Config struct {
	// Address is the "host:port" of the server.
	Address string
	// ConnectionTimeout is the max duration for establishing the connection.
	ConnectionTimeout time.Duration
	// WriteTimeout is the max duration for sending one request; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout is the max duration to wait for one response; 0 means no
	// timeout beyond the context deadline.
	ReadTimeout time.Duration
	// ReadBufferSize is the chunk size of a single socket read.
	ReadBufferSize int
}

// DefaultConfig returns a Config with default values for the given address.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       0,
		ReadBufferSize:    4096,
	}
}

// Client is a remote environment. Calls are serialized; it is safe for
// concurrent use but one call at a time is sent.
type Client struct {
	// ObservationSpace and ActionSpace are rebuilt from the init response.
	ObservationSpace spaces.Space
	ActionSpace      spaces.Space

	config Config
	conn   net.Conn
	enc    *wire.Encoder
	dec    *wire.Decoder

	mu    sync.Mutex
	state State
}

// Dial connects to the server and initializes envID with envConfig on it.
func Dial(ctx context.Context, cfg Config, envID string, envConfig map[string]any) (*Client, error) {
	conn, err := dialConn(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config: cfg,
		conn:   conn,
		enc:    wire.NewEncoder(conn),
		dec:    wire.NewDecoder(conn, cfg.ReadBufferSize),
		state:  Connected,
	}

	var resp wire.InitResponse
	if err := c.call(ctx, wire.Init, wire.InitRequest{Env: envID, Config: envConfig}, &resp); err != nil {
		_ = c.Close()
		return nil, err
	}

	if c.ObservationSpace, err = spaces.FromDescriptor(resp.ObservationSpace); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("observation space: %w", err)
	}

	if c.ActionSpace, err = spaces.FromDescriptor(resp.ActionSpace); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("action space: %w", err)
	}

	return c, nil
}

func dialConn(ctx context.Context, cfg Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
	}

	return conn, nil
}

// Reset starts a new episode and returns its first observation.
func (c *Client) Reset(ctx context.Context) (ndarray.Array, error) {
	var resp wire.ResetResponse
	if err := c.call(ctx, wire.Reset, nil, &resp); err != nil {
		return ndarray.Array{}, err
	}

	return resp.Observation, nil
}

// Step applies action and returns the outcome.
func (c *Client) Step(ctx context.Context, action ndarray.Array) (wire.StepResponse, error) {
	var resp wire.StepResponse
	if err := c.call(ctx, wire.Step, wire.StepRequest{Action: action}, &resp); err != nil {
		return wire.StepResponse{}, err
	}

	return resp, nil
}

// Close ends the session and releases the connection. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return nil
	}

	var err error
	if c.state == Connected {
		if err = c.send(wire.Close, nil); wire.IsDisconnect(err) {
			err = nil
		}
	}

	if cerr := c.conn.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	c.state = Closed

	return err
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) call(ctx context.Context, cmd wire.Command, payload, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrClosed
	}

	if err := c.send(cmd, payload); err != nil {
		return c.fail(err)
	}

	msg, err := c.recv(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return c.fail(ctx.Err())
		}
		return c.fail(err)
	}

	return decodeResponse(cmd, msg, out)
}

func (c *Client) send(cmd wire.Command, payload any) error {
	msg, err := wire.NewMessage(cmd, payload)
	if err != nil {
		return err
	}

	if c.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	return c.enc.Send(msg)
}

// recv reads one response. A cancelled ctx interrupts the read.
func (c *Client) recv(ctx context.Context) (*wire.Message, error) {
	return readResponse(ctx, c.conn, c.dec, c.config.ReadTimeout)
}

// fail drops a connection that can no longer be trusted to be in step with
// the server.
func (c *Client) fail(err error) error {
	_ = c.conn.Close()
	c.state = Disconnected

	if wire.IsDisconnect(err) {
		return ErrClosed
	}

	return err
}

func readResponse(ctx context.Context, conn net.Conn, dec *wire.Decoder, timeout time.Duration) (*wire.Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	return dec.Next()
}

func decodeResponse(cmd wire.Command, msg *wire.Message, out any) error {
	switch msg.Command {
	case wire.Confirm:
		if out == nil {
			return nil
		}
		if err := msg.Decode(out); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		return nil
	case wire.Error:
		var resp wire.ErrorResponse
		if err := msg.Decode(&resp); err != nil {
			return &RemoteError{Command: cmd, Message: string(msg.Data)}
		}
		return &RemoteError{Command: cmd, Message: resp.Message}
	default:
		return &RemoteError{Command: cmd, Message: fmt.Sprintf("unexpected response %q", msg.Command)}
	}
}

// ShutdownServer asks the server at cfg.Address to stop. The server only
// honors the request from a local client; it closes the connection either
// way, so the caller cannot tell a refused request from an accepted one.
func ShutdownServer(ctx context.Context, cfg Config) error {
	conn, err := dialConn(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	msg, err := wire.NewMessage(wire.ShutDownServer, nil)
	if err != nil {
		return err
	}

	if cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	if err := wire.NewEncoder(conn).Send(msg); err != nil {
		return fmt.Errorf("send shutdown request: %w", err)
	}

	resp, err := readResponse(ctx, conn, wire.NewDecoder(conn, cfg.ReadBufferSize), cfg.ReadTimeout)
	if err == nil {
		if rerr := decodeResponse(wire.ShutDownServer, resp, nil); rerr != nil {
			return rerr
		}
		return fmt.Errorf("server answered shutdown request with %s", resp.Command)
	}
	if wire.IsDisconnect(err) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return fmt.Errorf("await shutdown: %w", err)
}
