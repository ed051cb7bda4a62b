package env

import (
	"fmt"
	"math"

	"github.com/cyberinferno/envserver/ndarray"
	"github.com/cyberinferno/envserver/spaces"
)

// EchoID is the registry id of the echo environment.
const EchoID = "Echo-v0"

// EchoConfig configures an Echo environment.
type EchoConfig struct {
	Size     int `json:"size"`
	MaxSteps int `json:"max_steps"`
}

// Echo observes its own last action, clipped to [-1, 1]. Reward is the
// negative squared norm of the action, so the optimum is the zero action.
type Echo struct {
	cfg   EchoConfig
	space *spaces.Box
	state ndarray.Array
	steps int
}

// NewEcho builds an Echo environment. Defaults: size 3, max_steps 200.
func NewEcho(config map[string]any) (Env, error) {
	cfg := EchoConfig{Size: 3, MaxSteps: 200}
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Size < 1 {
		return nil, fmt.Errorf("size must be positive, got %d", cfg.Size)
	}

	space := spaces.UniformBox([]int{cfg.Size}, -1, 1, "float32")
	return &Echo{
		cfg:   cfg,
		space: space,
		state: ndarray.Full([]int{cfg.Size}, 0),
	}, nil
}

func (e *Echo) ObservationSpace() spaces.Space {
	return e.space
}

func (e *Echo) ActionSpace() spaces.Space {
	return e.space
}

func (e *Echo) Reset() (ndarray.Array, error) {
	e.steps = 0
	e.state = ndarray.Full([]int{e.cfg.Size}, 0)
	return e.state, nil
}

func (e *Echo) Step(action ndarray.Array) (StepResult, error) {
	if !action.SameShape(e.space.Low) {
		return StepResult{}, fmt.Errorf("%w: shape %v, want %v", ErrInvalidAction, action.Shape(), e.space.Shape())
	}

	obs := make([]float64, action.Len())
	reward := 0.0
	for i := range obs {
		v := action.At(i)
		reward -= v * v
		obs[i] = math.Max(-1, math.Min(1, v))
	}

	e.steps++
	e.state = ndarray.Vector(obs...)
	return StepResult{
		Observation: e.state,
		Reward:      reward,
		Done:        e.cfg.MaxSteps > 0 && e.steps >= e.cfg.MaxSteps,
		Info:        map[string]any{},
	}, nil
}

func (e *Echo) Close() error {
	return nil
}
