package cli

import (
	"errors"
	"fmt"

	"systrigger/internal/config"
	"systrigger/internal/dag"
	"systrigger/internal/engine"
	"systrigger/internal/pathdb"
	"systrigger/internal/pattern"
	"systrigger/internal/trigger"
)

const (
	ExitSuccess           = 0
	ExitStale             = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// ExitError carries an explicit exit code. An empty Message means the
// command already told the user what happened.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &ExitError{Code: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr != nil {
		if exitErr.Code != 0 {
			return exitErr.Code
		}
		return ExitInvalidInvocation
	}
	var (
		loadErr  *trigger.LoadError
		graphErr *dag.GraphError
	)
	switch {
	case errors.Is(err, engine.ErrUnknownTrigger):
		return ExitInvalidInvocation
	case errors.As(err, &loadErr),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, trigger.ErrFormat),
		errors.Is(err, pattern.ErrSyntax),
		errors.As(err, &graphErr),
		errors.Is(err, pathdb.ErrFormat):
		return ExitConfigError
	default:
		return ExitInternalError
	}
}
