package env

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cyberinferno/envserver/ndarray"
	"github.com/cyberinferno/envserver/spaces"
)

// CartPoleID is the registry id of the cart-pole environment.
const CartPoleID = "CartPole-v1"

const (
	gravity        = 9.8
	cartMass       = 1.0
	poleMass       = 0.1
	totalMass      = cartMass + poleMass
	poleHalfLength = 0.5
	poleMassLength = poleMass * poleHalfLength
	forceMag       = 10.0
	tau            = 0.02

	thetaThreshold = 12 * 2 * math.Pi / 360
	xThreshold     = 2.4
)

// ErrNotReset is returned by Step before the first Reset.
var ErrNotReset = errors.New("step called before reset")

// CartPoleConfig configures a CartPole environment.
type CartPoleConfig struct {
	Seed     *int64 `json:"seed"`
	MaxSteps int    `json:"max_steps"`
}

// CartPole is the classic pole-balancing task: push the cart left (0) or
// right (1) to keep the pole upright. Reward is 1 per step survived.
type CartPole struct {
	cfg      CartPoleConfig
	rng      *rand.Rand
	obsSpace *spaces.Box
	actSpace *spaces.Discrete

	state [4]float64
	steps int
	ready bool
}

// NewCartPole builds a CartPole environment. Defaults: max_steps 500 and a
// time-based seed.
func NewCartPole(config map[string]any) (Env, error) {
	cfg := CartPoleConfig{MaxSteps: 500}
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.MaxSteps < 0 {
		return nil, fmt.Errorf("max_steps must not be negative, got %d", cfg.MaxSteps)
	}

	seed := rand.Int63()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}

	high := ndarray.Vector(xThreshold*2, spaces.MaxBound, thetaThreshold*2, spaces.MaxBound)
	low := ndarray.Vector(-xThreshold*2, -spaces.MaxBound, -thetaThreshold*2, -spaces.MaxBound)
	obs, err := spaces.NewBox(low, high, "float32")
	if err != nil {
		return nil, err
	}

	return &CartPole{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
		obsSpace: obs,
		actSpace: &spaces.Discrete{N: 2},
	}, nil
}

func (c *CartPole) ObservationSpace() spaces.Space {
	return c.obsSpace
}

func (c *CartPole) ActionSpace() spaces.Space {
	return c.actSpace
}

func (c *CartPole) Reset() (ndarray.Array, error) {
	for i := range c.state {
		c.state[i] = c.rng.Float64()*0.1 - 0.05
	}

	c.steps = 0
	c.ready = true
	return ndarray.Vector(c.state[:]...), nil
}

func (c *CartPole) Step(action ndarray.Array) (StepResult, error) {
	if !c.ready {
		return StepResult{}, ErrNotReset
	}

	if !c.actSpace.Contains(action) {
		return StepResult{}, fmt.Errorf("%w: %v", ErrInvalidAction, action)
	}

	x, xDot, theta, thetaDot := c.state[0], c.state[1], c.state[2], c.state[3]

	force := -forceMag
	if action.At(0) == 1 {
		force = forceMag
	}

	cosTheta, sinTheta := math.Cos(theta), math.Sin(theta)
	temp := (force + poleMassLength*thetaDot*thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) /
		(poleHalfLength * (4.0/3.0 - poleMass*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	x += tau * xDot
	xDot += tau * xAcc
	theta += tau * thetaDot
	thetaDot += tau * thetaAcc
	c.state = [4]float64{x, xDot, theta, thetaDot}
	c.steps++

	fell := x < -xThreshold || x > xThreshold || theta < -thetaThreshold || theta > thetaThreshold
	truncated := c.cfg.MaxSteps > 0 && c.steps >= c.cfg.MaxSteps
	if fell || truncated {
		c.ready = false
	}

	return StepResult{
		Observation: ndarray.Vector(c.state[:]...),
		Reward:      1,
		Done:        fell || truncated,
		Info:        map[string]any{"truncated": truncated && !fell},
	}, nil
}

func (c *CartPole) Close() error {
	return nil
}
