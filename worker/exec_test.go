package worker

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/envserver/ndarray"
	"github.com/cyberinferno/envserver/wire"
)

func execLauncher(names WorkspaceSource, joinTimeout time.Duration) *ExecLauncher {
	return &ExecLauncher{
		Path:        os.Args[0],
		Env:         []string{helperEnvVar + "=1"},
		Names:       names,
		JoinTimeout: joinTimeout,
		Stderr:      io.Discard,
	}
}

func TestExecLauncher_session(t *testing.T) {
	l := execLauncher(nil, 5*time.Second)
	p, err := l.Launch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, l.Workers())

	var initResp wire.InitResponse
	requireConfirm(t, call(t, p, initReq("Echo-v0", map[string]any{})), &initResp)
	assert.Equal(t, []int{3}, initResp.ActionSpace.Shape)

	var reset wire.ResetResponse
	requireConfirm(t, call(t, p, resetReq), &reset)
	assert.Equal(t, 3, reset.Observation.Len())

	t.Run("actions and observations survive the pipe", func(t *testing.T) {
		action := ndarray.Vector(0.1234567890123, -0.75, 1.0/3.0)

		var step wire.StepResponse
		requireConfirm(t, call(t, p, &Request{Command: wire.Step, Action: action}), &step)
		assert.True(t, step.Observation.Equal(action, 1e-12), "got %v", step.Observation)
		assert.False(t, step.Done)
	})

	t.Run("errors come back as error responses", func(t *testing.T) {
		requireError(t, call(t, p, initReq("Echo-v0", nil)), "already initialized")
	})

	assert.Nil(t, call(t, p, &Request{Command: wire.Close}))
	require.NoError(t, p.Wait())
	assert.Eventually(t, func() bool { return l.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestExecLauncher_workspaceOverPipe(t *testing.T) {
	names := &dirNames{base: t.TempDir()}
	l := execLauncher(names, 5*time.Second)

	p, err := l.Launch(context.Background(), 2)
	require.NoError(t, err)

	requireConfirm(t, call(t, p, initReq("Recorder-v0", nil)), &wire.InitResponse{})
	requireConfirm(t, call(t, p, resetReq), &wire.ResetResponse{})
	requireConfirm(t, call(t, p, stepReq(0, 0, 0)), &wire.StepResponse{})
	terminate(t, p)

	_, err = os.Stat(filepath.Join(names.base, "nested", "ws-0001", "trajectory.jsonl"))
	assert.NoError(t, err)
}

func TestExecLauncher_closedQueueEndsChild(t *testing.T) {
	l := execLauncher(nil, 5*time.Second)
	p, err := l.Launch(context.Background(), 3)
	require.NoError(t, err)

	requireConfirm(t, call(t, p, initReq("Echo-v0", nil)), &wire.InitResponse{})

	start := time.Now()
	terminate(t, p)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, l.Active())
}

func TestExecLauncher_killsUnresponsiveChild(t *testing.T) {
	l := execLauncher(nil, 200*time.Millisecond)
	p, err := l.Launch(context.Background(), 4)
	require.NoError(t, err)

	requireConfirm(t, call(t, p, initReq("Slow-v0", map[string]any{"delay_ms": 60000})), &wire.InitResponse{})
	requireConfirm(t, call(t, p, resetReq), &wire.ResetResponse{})

	p.Requests() <- stepReq(0, 0, 0)
	close(p.Requests())

	done := make(chan struct{})
	go func() {
		for range p.Responses() {
		}
		close(done)
	}()

	start := time.Now()
	assert.Error(t, p.Wait())
	assert.Less(t, time.Since(start), 5*time.Second)

	<-done
	assert.Equal(t, 0, l.Active())
}

func TestServeProcess(t *testing.T) {
	var in bytes.Buffer
	for _, req := range []*Request{initReq("Echo-v0", nil), resetReq, stepReq(1, 2, 3)} {
		msg, err := req.Message()
		require.NoError(t, err)
		frame, err := wire.Encode(msg)
		require.NoError(t, err)
		in.Write(frame)
	}
	in.WriteString(`{"command":"confirm"}` + string(wire.Delimiter))

	var out bytes.Buffer
	require.NoError(t, ServeProcess(context.Background(), &in, &out, testRegistry(), nil))

	dec := wire.NewDecoder(&out, 0)
	var commands []wire.Command
	for {
		msg, err := dec.Next()
		if err != nil {
			assert.ErrorIs(t, err, wire.ErrClosed)
			break
		}
		commands = append(commands, msg.Command)
	}

	// The rejection of the stray confirm is written by the reader and may
	// overtake the step response.
	assert.ElementsMatch(t, []wire.Command{wire.Confirm, wire.Confirm, wire.Confirm, wire.Error}, commands)
}
