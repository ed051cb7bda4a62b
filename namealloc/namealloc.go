// Package namealloc hands out unique workspace directory names from a
// bounded queue that a background goroutine keeps topped up.
package namealloc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyberinferno/envserver/logger"
	"github.com/cyberinferno/envserver/sequence"
)

// TimestampLayout formats the allocator start time inside every name
// (hour.minute-day.month.year).
const TimestampLayout = "15.04-02.01.2006"

const (
	DefaultCapacity = 10
	DefaultBackoff  = 10 * time.Second
)

// ErrStopped is returned by Claim once the allocator is stopped and its
// queue is drained.
var ErrStopped = errors.New("name allocator stopped")

// Config configures an Allocator.
type Config struct {
	BaseDir  string
	Capacity int

	// Backoff is how long the loop sleeps when the queue is full.
	Backoff time.Duration

	// Clock supplies the start timestamp. Defaults to time.Now.
	Clock func() time.Time

	Logger logger.Logger
}

// Allocator produces names of the form <base>/<start>-<seq> where seq is a
// four digit, never reused counter starting at 1.
type Allocator struct {
	cfg    Config
	prefix string
	seq    *sequence.Counter
	queue  chan string

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates an Allocator. It produces nothing until Start.
func New(cfg Config) *Allocator {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}

	return &Allocator{
		cfg:    cfg,
		prefix: filepath.Join(cfg.BaseDir, cfg.Clock().Format(TimestampLayout)),
		seq:    sequence.NewCounter(0),
		queue:  make(chan string, cfg.Capacity),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start fills the queue to capacity before returning, then keeps it full
// from a background goroutine until Stop. Calling Start again is a no-op.
func (a *Allocator) Start() {
	a.startOnce.Do(func() {
		for len(a.queue) < cap(a.queue) {
			a.queue <- a.next()
		}

		a.cfg.Logger.Debug("name queue filled", logger.Field{Key: "capacity", Value: cap(a.queue)})
		go a.loop()
	})
}

func (a *Allocator) loop() {
	defer close(a.done)

	pending := a.next()
	for {
		select {
		case <-a.stop:
			return
		default:
		}

		select {
		case a.queue <- pending:
			pending = a.next()
			continue
		default:
		}

		select {
		case <-a.stop:
			return
		case <-time.After(a.cfg.Backoff):
		}
	}
}

func (a *Allocator) next() string {
	return fmt.Sprintf("%s-%04d", a.prefix, a.seq.Next())
}

// Claim pops the next name, waiting for one if the queue is empty.
func (a *Allocator) Claim(ctx context.Context) (string, error) {
	select {
	case name := <-a.queue:
		return name, nil
	default:
	}

	select {
	case name := <-a.queue:
		return name, nil
	case <-a.stop:
		select {
		case name := <-a.queue:
			return name, nil
		default:
			return "", ErrStopped
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop ends the background loop. It is safe to call more than once.
func (a *Allocator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
}

// Wait blocks until the background loop has exited. If Start was never
// called it returns at once and later Starts do nothing.
func (a *Allocator) Wait() {
	a.startOnce.Do(func() {
		close(a.done)
	})

	<-a.done
}

// Issued reports how many names have been generated so far.
func (a *Allocator) Issued() uint64 {
	return a.seq.Last()
}

// Prefix returns the <base>/<start> part shared by every name.
func (a *Allocator) Prefix() string {
	return a.prefix
}
