package worker

import (
	"context"
	"slices"

	"github.com/cyberinferno/envserver/logger"
	"github.com/cyberinferno/envserver/safeset"
	"github.com/cyberinferno/envserver/wire"
)

// Process is a running worker. A caller sends at most one request at a time
// and reads its response before sending the next.
type Process interface {
	// Requests accepts commands. Closing it asks the worker to terminate and
	// never blocks.
	Requests() chan<- *Request

	// Responses yields one message per non-terminal request and is closed
	// when the worker has terminated.
	Responses() <-chan *wire.Message

	// Wait blocks until the worker has exited and its resources are released.
	Wait() error
}

// Launcher starts workers.
type Launcher interface {
	Launch(ctx context.Context, id uint64) (Process, error)

	// Active reports how many launched workers have not yet exited.
	Active() int

	// Workers returns the ids of workers that have not yet exited, in
	// ascending order.
	Workers() []uint64
}

// tracker records the ids of running workers.
type tracker struct {
	live safeset.SafeSet[uint64]
}

func (t *tracker) Active() int {
	return t.live.Size()
}

func (t *tracker) Workers() []uint64 {
	ids := t.live.Values()
	slices.Sort(ids)
	return ids
}

// GoroutineLauncher runs each worker as a goroutine in the current process.
type GoroutineLauncher struct {
	Runner Runner
	tracker
}

type goroutineProcess struct {
	requests  chan *Request
	responses chan *wire.Message
	done      chan struct{}
}

// Launch starts a worker goroutine.
func (l *GoroutineLauncher) Launch(ctx context.Context, id uint64) (Process, error) {
	r := l.Runner
	if r.Logger == nil {
		r.Logger = logger.NewNopLogger()
	}
	r.Logger = r.Logger.With(logger.Field{Key: "worker", Value: id})

	p := &goroutineProcess{
		requests:  make(chan *Request, 1),
		responses: make(chan *wire.Message, 1),
		done:      make(chan struct{}),
	}

	l.live.Add(id)
	go func() {
		defer close(p.done)
		defer l.live.Remove(id)
		r.Run(ctx, p.requests, p.responses)
	}()

	return p, nil
}

func (p *goroutineProcess) Requests() chan<- *Request {
	return p.requests
}

func (p *goroutineProcess) Responses() <-chan *wire.Message {
	return p.responses
}

func (p *goroutineProcess) Wait() error {
	<-p.done
	return nil
}
