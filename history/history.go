// Package history keeps records of finished sessions for a limited time.
package history

import (
	"context"
	"time"
)

// Record summarizes one finished session.
type Record struct {
	ID       uint64    `json:"id"`
	Remote   string    `json:"remote"`
	Local    bool      `json:"local"`
	Env      string    `json:"env,omitempty"`
	Started  time.Time `json:"started"`
	Ended    time.Time `json:"ended"`
	Requests int       `json:"requests"`
	Errors   int       `json:"errors"`

	// Reason says why the session ended.
	Reason string `json:"reason"`
}

// Duration is how long the session was open.
func (r Record) Duration() time.Duration {
	return r.Ended.Sub(r.Started)
}

// Store is a session history backend. Implementations must be safe for
// concurrent use.
type Store interface {
	// Add stores r under r.ID, replacing any earlier record with that id.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - r: The record to store
	//
	// Returns:
	//   - An error if the record could not be stored
	Add(ctx context.Context, r Record) error

	// Get returns the record stored under id.
	Get(ctx context.Context, id uint64) (Record, bool, error)

	// List returns every unexpired record ordered by id.
	List(ctx context.Context) ([]Record, error)

	// Clear removes all records.
	Clear(ctx context.Context) error
}
