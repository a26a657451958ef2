// Package runner executes a trigger's compiled handlers, serially or all at
// once, and reports every handler's outcome.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

var ErrSpawn = errors.New("handler could not be started")

// SpawnError reports a handler that never ran, as opposed to one that ran
// and exited non-zero.
type SpawnError struct {
	Handler string
	Err     error
}

func (e *SpawnError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %v", ErrSpawn.Error(), e.Handler, e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrSpawn, e.Err} }

// Output is what a finished child process left behind.
type Output struct {
	// ExitCode is -1 when the process was killed by a signal.
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Spawner starts a program and waits for it to exit.
//
// A non-nil error means the program could not be run at all; a program that
// ran and failed is reported through Output.ExitCode.
type Spawner interface {
	Spawn(ctx context.Context, binary string, args []string) (Output, error)
}

// ExecSpawner runs handlers as child processes.
//
// Children are never killed: once started, Spawn waits for them to exit even
// if ctx is cancelled.
type ExecSpawner struct {
	// Dir is the working directory of every child. Empty means "/".
	Dir string

	// Env replaces the child environment when non-nil.
	Env []string
}

func (s ExecSpawner) Spawn(_ context.Context, binary string, args []string) (Output, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = s.Dir
	if cmd.Dir == "" {
		cmd.Dir = "/"
	}
	if s.Env != nil {
		cmd.Env = s.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Output{}, &SpawnError{Handler: binary, Err: err}
	}

	err := cmd.Wait()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return out, fmt.Errorf("waiting for %s: %w", binary, err)
		}
		out.ExitCode = exitErr.ExitCode()
	}
	return out, nil
}
