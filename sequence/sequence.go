// Package sequence provides a concurrency-safe monotonic counter used for
// session identifiers and workspace sequence numbers.
package sequence

import "sync/atomic"

// Counter hands out monotonically increasing uint64 values. The first call to
// Next returns start+1. Values are never reused for the lifetime of the Counter.
type Counter struct {
	n atomic.Uint64
}

// NewCounter creates a Counter whose first Next returns start+1.
//
// Parameters:
//   - start: The value the counter is initialized to
//
// Returns:
//   - A new Counter ready for concurrent use
func NewCounter(start uint64) *Counter {
	c := &Counter{}
	c.n.Store(start)
	return c
}

// Next advances the counter and returns the new value.
//
// Returns:
//   - The next value in the sequence
func (c *Counter) Next() uint64 {
	return c.n.Add(1)
}

// Last returns the most recently issued value, or the start value if Next has
// not been called yet.
func (c *Counter) Last() uint64 {
	return c.n.Load()
}
