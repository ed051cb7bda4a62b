// Package env defines the simulation backend interface consumed by workers,
// a registry that constructs environments by name, and a few builtin
// environments.
package env

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cyberinferno/envserver/ndarray"
	"github.com/cyberinferno/envserver/spaces"
)

// WorkingDirKey is the configuration key a workspace path is injected under.
const WorkingDirKey = "working_dir"

var (
	// ErrUnknownEnv is returned by Make for an unregistered id.
	ErrUnknownEnv = errors.New("unknown environment")

	// ErrDuplicateEnv is returned by Register for an id already in use.
	ErrDuplicateEnv = errors.New("environment already registered")

	// ErrInvalidAction is returned by Step for an action outside the action space.
	ErrInvalidAction = errors.New("action outside action space")
)

// StepResult is the outcome of one Step.
type StepResult struct {
	Observation ndarray.Array
	Reward      float64
	Done        bool
	Info        map[string]any
}

// Env is one simulation instance. Implementations are used by a single
// goroutine at a time and need not be safe for concurrent use.
type Env interface {
	ObservationSpace() spaces.Space
	ActionSpace() spaces.Space

	// Reset starts a new episode and returns the initial observation.
	Reset() (ndarray.Array, error)

	// Step advances the simulation by one action.
	Step(action ndarray.Array) (StepResult, error)

	// Close releases backend resources.
	Close() error
}

// Factory constructs an environment from its configuration map.
type Factory func(config map[string]any) (Env, error)

// Spec registers an environment type.
type Spec struct {
	ID  string
	New Factory

	// Workspace marks types that need a private working directory. The
	// worker injects its path into the configuration under WorkingDirKey.
	Workspace bool
}

// Registry maps environment ids to their specs. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds spec under spec.ID.
func (r *Registry) Register(spec Spec) error {
	if spec.ID == "" || spec.New == nil {
		return fmt.Errorf("environment spec needs an id and a factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.specs[spec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEnv, spec.ID)
	}

	r.specs[spec.ID] = spec
	return nil
}

// MustRegister is Register that panics on error, for package init.
func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Lookup returns the spec registered under id.
func (r *Registry) Lookup(id string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[id]
	return spec, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}

	sort.Strings(ids)
	return ids
}

// Make constructs the environment registered under id.
func (r *Registry) Make(id string, config map[string]any) (Env, error) {
	spec, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnv, id)
	}

	if config == nil {
		config = map[string]any{}
	}

	e, err := spec.New(config)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", id, err)
	}

	return e, nil
}

// Default holds the builtin environments.
var Default = NewRegistry()

func init() {
	Default.MustRegister(Spec{ID: EchoID, New: NewEcho})
	Default.MustRegister(Spec{ID: CartPoleID, New: NewCartPole})
	Default.MustRegister(Spec{ID: RecorderID, New: NewRecorder, Workspace: true})
}

// decodeConfig copies the loosely typed configuration map into a typed
// struct through its JSON form. Unknown keys are ignored.
func decodeConfig(config map[string]any, out any) error {
	if len(config) == 0 {
		return nil
	}

	b, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}
