package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
)

// Delimiter terminates every frame. encoding/json escapes '<' and '>' inside
// strings, so an encoded message never contains it.
var Delimiter = []byte("<END>")

const (
	// DefaultReadBufferSize is the chunk size of a single read.
	DefaultReadBufferSize = 1024

	// MaxFrameSize bounds how many bytes may accumulate without a delimiter.
	MaxFrameSize = 16 * 1024 * 1024
)

var (
	// ErrClosed is returned when the peer closed the stream.
	ErrClosed = errors.New("connection closed")

	// ErrFrameTooLarge is returned when MaxFrameSize bytes arrive without a
	// delimiter.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// DecodeError reports a frame that was delimited correctly but whose payload
// is not a valid message. The frame is consumed; the decoder stays usable.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode serializes msg and appends the delimiter.
func Encode(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Command, err)
	}

	return append(body, Delimiter...), nil
}

// Unmarshal decodes a single frame body (without delimiter).
func Unmarshal(frame []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, err
	}

	if !msg.Command.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Command)
	}

	return &msg, nil
}

// Decoder reads delimited messages from a stream. It is not safe for
// concurrent use.
type Decoder struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

// NewDecoder creates a Decoder reading chunks of bufSize bytes from r. A
// non-positive bufSize selects DefaultReadBufferSize.
func NewDecoder(r io.Reader, bufSize int) *Decoder {
	if bufSize <= 0 {
		bufSize = DefaultReadBufferSize
	}

	return &Decoder{r: r, chunk: make([]byte, bufSize)}
}

// Next returns the next message. Bytes after the delimiter are kept for the
// following call. It returns ErrClosed when the stream ends, a *DecodeError
// for a malformed frame, and any other read error (including deadline
// timeouts) unchanged with the partial frame still buffered.
func (d *Decoder) Next() (*Message, error) {
	for {
		if idx := bytes.Index(d.buf, Delimiter); idx >= 0 {
			frame := d.buf[:idx]
			rest := d.buf[idx+len(Delimiter):]
			d.buf = append(make([]byte, 0, len(rest)), rest...)

			msg, err := Unmarshal(frame)
			if err != nil {
				return nil, &DecodeError{Frame: frame, Err: err}
			}

			return msg, nil
		}

		if len(d.buf) > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}

		n, err := d.r.Read(d.chunk)
		d.buf = append(d.buf, d.chunk[:n]...)
		if err == nil {
			continue
		}

		// A complete frame that arrived with the error is handed out first;
		// the error repeats on the next read.
		if n > 0 && bytes.Contains(d.buf, Delimiter) {
			continue
		}

		if errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}

		return nil, err
	}
}

// Buffered reports how many undecoded bytes are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Encoder writes framed messages to a stream. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Send encodes msg and writes the whole frame.
func (e *Encoder) Send(msg *Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(frame); err != nil {
		return err
	}

	return nil
}

// IsTimeout reports whether err is a deadline expiry, after which the
// connection is still usable.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsDisconnect reports whether err means the peer is gone: a clean close, a
// reset, a broken pipe or use of an already closed connection.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED)
}
