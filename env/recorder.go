package env

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyberinferno/envserver/ndarray"
)

// RecorderID is the registry id of the recording environment.
const RecorderID = "Recorder-v0"

// TrajectoryFile is the name of the file Recorder appends to.
const TrajectoryFile = "trajectory.jsonl"

// ErrNoWorkspace is returned when an environment that needs a working
// directory is built without one.
var ErrNoWorkspace = errors.New("working_dir not set")

// Transition is one line of a trajectory file.
type Transition struct {
	Episode     int           `json:"episode"`
	Step        int           `json:"step"`
	Action      ndarray.Array `json:"action"`
	Observation ndarray.Array `json:"observation"`
	Reward      float64       `json:"reward"`
	Done        bool          `json:"done"`
}

// Recorder has Echo dynamics and writes every transition to
// <working_dir>/trajectory.jsonl.
type Recorder struct {
	*Echo

	file    *os.File
	enc     *json.Encoder
	episode int
}

// NewRecorder builds a Recorder. The configuration must carry working_dir;
// the remaining keys are passed to the Echo dynamics.
func NewRecorder(config map[string]any) (Env, error) {
	dir, _ := config[WorkingDirKey].(string)
	if dir == "" {
		return nil, ErrNoWorkspace
	}

	inner, err := NewEcho(config)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, TrajectoryFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trajectory: %w", err)
	}

	return &Recorder{
		Echo: inner.(*Echo),
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

func (r *Recorder) Reset() (ndarray.Array, error) {
	r.episode++
	return r.Echo.Reset()
}

func (r *Recorder) Step(action ndarray.Array) (StepResult, error) {
	res, err := r.Echo.Step(action)
	if err != nil {
		return res, err
	}

	t := Transition{
		Episode:     r.episode,
		Step:        r.steps,
		Action:      action,
		Observation: res.Observation,
		Reward:      res.Reward,
		Done:        res.Done,
	}
	if err := r.enc.Encode(t); err != nil {
		return StepResult{}, fmt.Errorf("record transition: %w", err)
	}

	return res, nil
}

func (r *Recorder) Close() error {
	return r.file.Close()
}
