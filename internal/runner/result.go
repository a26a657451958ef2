package runner

import (
	"errors"
	"time"

	"systrigger/internal/trigger"
)

// Result is the outcome of one handler.
type Result struct {
	Handler  trigger.CompiledHandler
	ExitCode int
	Stdout   []byte
	Stderr   []byte

	// Err is set when the handler could not be run to completion.
	Err error

	Duration time.Duration
}

// Failed reports whether the handler did not exit 0.
func (r Result) Failed() bool { return r.Err != nil || r.ExitCode != 0 }

// SpawnFailed reports whether the handler never started.
func (r Result) SpawnFailed() bool { return errors.Is(r.Err, ErrSpawn) }

// Report summarizes one trigger's handler set.
//
// Results follow the compiled handler order regardless of completion order.
type Report struct {
	Trigger    string
	Concurrent bool
	Results    []Result

	// Outcome is ALL_SUCCEEDED or ONE_OR_MORE_FAILED.
	Outcome State

	// History lists every state passed through, ending in DONE.
	History []State
}

// Failures returns the failed results in handler order.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// Succeeded reports whether every handler exited 0.
func (r *Report) Succeeded() bool { return r.Outcome == StateAllSucceeded }
