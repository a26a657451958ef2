package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"systrigger/internal/trigger"
)

type fakeSpawner struct {
	mu    sync.Mutex
	calls []string
	exit  map[string]int
	fail  map[string]error
	delay time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSpawner) Spawn(_ context.Context, binary string, args []string) (Output, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, binary)
	f.mu.Unlock()

	if err := f.fail[binary]; err != nil {
		return Output{}, &SpawnError{Handler: binary, Err: err}
	}
	return Output{ExitCode: f.exit[binary], Stdout: []byte("out:" + binary)}, nil
}

func handlers(names ...string) []trigger.CompiledHandler {
	out := make([]trigger.CompiledHandler, 0, len(names))
	for _, n := range names {
		out = append(out, trigger.CompiledHandler{Trigger: "t", Binary: n})
	}
	return out
}

func TestRun_SerialRunsEveryHandlerInOrder(t *testing.T) {
	sp := &fakeSpawner{exit: map[string]int{"b": 3}}
	r := New(sp, nil)

	rep, err := r.Run(context.Background(), "t", handlers("a", "b", "c"), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, sp.calls)
	assert.Equal(t, StateOneOrMoreFailed, rep.Outcome)
	assert.False(t, rep.Succeeded())
	require.Len(t, rep.Failures(), 1)
	assert.Equal(t, 3, rep.Failures()[0].ExitCode)
	assert.Equal(t, []State{StateIdle, StateDispatched, StateOneOrMoreFailed, StateDone}, rep.History)
	assert.Equal(t, int32(1), sp.peak.Load())
}

func TestRun_ConcurrentWaitsForAll(t *testing.T) {
	sp := &fakeSpawner{exit: map[string]int{"fail": 1}, delay: 50 * time.Millisecond}
	r := New(sp, nil)

	rep, err := r.Run(context.Background(), "icons", handlers("fail", "ok"), true)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"fail", "ok"}, sp.calls, "both handlers must be launched")
	assert.Equal(t, StateOneOrMoreFailed, rep.Outcome)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, "fail", rep.Results[0].Handler.Binary)
	assert.Equal(t, 1, rep.Results[0].ExitCode)
	assert.Equal(t, "ok", rep.Results[1].Handler.Binary)
	assert.False(t, rep.Results[1].Failed())
	assert.Equal(t, int32(2), sp.peak.Load(), "handlers must overlap")
}

func TestRun_SpawnFailureIsDistinct(t *testing.T) {
	sp := &fakeSpawner{fail: map[string]error{"missing": os.ErrNotExist}, exit: map[string]int{"bad": 2}}
	rep, err := New(sp, nil).Run(context.Background(), "t", handlers("bad", "missing", "ok"), false)
	require.NoError(t, err)

	failures := rep.Failures()
	require.Len(t, failures, 2)
	assert.False(t, failures[0].SpawnFailed())
	assert.True(t, failures[1].SpawnFailed())
	assert.True(t, errors.Is(failures[1].Err, os.ErrNotExist))
	assert.Equal(t, []string{"bad", "missing", "ok"}, sp.calls, "spawn failure must not stop the remaining handlers")
}

func TestRun_AllSucceeded(t *testing.T) {
	rep, err := New(&fakeSpawner{}, nil).Run(context.Background(), "t", handlers("a"), true)
	require.NoError(t, err)
	assert.True(t, rep.Succeeded())
	assert.Empty(t, rep.Failures())
}

func TestRun_NilSpawner(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), "t", nil, false)
	require.Error(t, err)
}

func TestMachine_RejectsInvalidTransitions(t *testing.T) {
	m := newMachine()
	require.Error(t, m.transition(StateIdle, StateDone))
	require.NoError(t, m.transition(StateIdle, StateDispatched))
	require.Error(t, m.transition(StateIdle, StateDispatched), "stale from state")
	require.NoError(t, m.transition(StateDispatched, StateAllSucceeded))
	require.NoError(t, m.transition(StateAllSucceeded, StateDone))
	require.Error(t, m.transition(StateDone, StateIdle))
	cur, _ := m.snapshot()
	assert.True(t, IsTerminal(cur))
}

func TestExecSpawner(t *testing.T) {
	dir := t.TempDir()
	sp := ExecSpawner{Dir: dir}

	out, err := sp.Spawn(context.Background(), "/bin/sh", []string{"-c", "pwd -P; echo oops >&2; exit 7"})
	require.NoError(t, err)
	assert.Equal(t, 7, out.ExitCode)
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved+"\n", string(out.Stdout))
	assert.Equal(t, "oops\n", string(out.Stderr))

	out, err = sp.Spawn(context.Background(), "/bin/sh", []string{"-c", "true"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)

	_, err = sp.Spawn(context.Background(), filepath.Join(dir, "no-such-binary"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))
	var se *SpawnError
	require.ErrorAs(t, err, &se)
}
