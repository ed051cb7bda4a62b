package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyberinferno/envserver/env"
	"github.com/cyberinferno/envserver/logger"
	"github.com/cyberinferno/envserver/ndarray"
	"github.com/cyberinferno/envserver/spaces"
)

// helperEnvVar makes the test binary act as a worker process.
const helperEnvVar = "ENVSERVER_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnvVar) == "1" {
		log := logger.NewConsoleLogger(os.Stderr, "worker-test", zerolog.WarnLevel)
		if err := ServeProcess(context.Background(), os.Stdin, os.Stdout, testRegistry(), log); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	os.Exit(m.Run())
}

var closedEnvs atomic.Int64

// testEnv wraps Echo with hooks for failure and latency.
type testEnv struct {
	env.Env
	delay   time.Duration
	panicky bool
	failing bool
}

func (e *testEnv) Step(action ndarray.Array) (env.StepResult, error) {
	if e.panicky {
		panic("simulator exploded")
	}
	if e.failing {
		return env.StepResult{}, errors.New("simulator diverged")
	}
	time.Sleep(e.delay)
	return e.Env.Step(action)
}

func (e *testEnv) Close() error {
	closedEnvs.Add(1)
	return e.Env.Close()
}

func wrapEcho(mod func(*testEnv, map[string]any)) env.Factory {
	return func(config map[string]any) (env.Env, error) {
		inner, err := env.NewEcho(nil)
		if err != nil {
			return nil, err
		}

		e := &testEnv{Env: inner}
		mod(e, config)
		return e, nil
	}
}

func testRegistry() *env.Registry {
	r := env.NewRegistry()
	r.MustRegister(env.Spec{ID: env.EchoID, New: env.NewEcho})
	r.MustRegister(env.Spec{ID: env.RecorderID, New: env.NewRecorder, Workspace: true})
	r.MustRegister(env.Spec{ID: "Tracked-v0", New: wrapEcho(func(*testEnv, map[string]any) {})})
	r.MustRegister(env.Spec{ID: "Panic-v0", New: wrapEcho(func(e *testEnv, _ map[string]any) { e.panicky = true })})
	r.MustRegister(env.Spec{ID: "Failing-v0", New: wrapEcho(func(e *testEnv, _ map[string]any) { e.failing = true })})
	r.MustRegister(env.Spec{ID: "Slow-v0", New: wrapEcho(func(e *testEnv, config map[string]any) {
		switch ms := config["delay_ms"].(type) {
		case float64:
			e.delay = time.Duration(ms) * time.Millisecond
		case int:
			e.delay = time.Duration(ms) * time.Millisecond
		}
	})})
	r.MustRegister(env.Spec{ID: "BadSpace-v0", New: func(map[string]any) (env.Env, error) {
		return nil, fmt.Errorf("%w: no bounds", spaces.ErrInvalidDescriptor)
	}})
	return r
}

// dirNames hands out fixed names under a base directory.
type dirNames struct {
	base string
	n    atomic.Int64
}

func (d *dirNames) Claim(context.Context) (string, error) {
	return fmt.Sprintf("%s/nested/ws-%04d", d.base, d.n.Add(1)), nil
}
