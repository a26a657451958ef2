package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"systrigger/internal/trigger"
)

// Runner executes compiled handler sets.
type Runner struct {
	Spawner Spawner
	Logger  *slog.Logger

	// now is replaced in tests.
	now func() time.Time
}

// New returns a Runner spawning through s.
func New(s Spawner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{Spawner: s, Logger: logger, now: time.Now}
}

// Run executes every handler exactly once.
//
// In serial mode handlers run one after another in the given order. In
// concurrent mode all of them are started at once and Run returns only after
// every one has exited. In both modes a failing handler never prevents the
// others from running.
//
// The returned error is reserved for misuse of the runner itself; handler
// failures are reported in the Report.
func (r *Runner) Run(ctx context.Context, name string, handlers []trigger.CompiledHandler, concurrent bool) (*Report, error) {
	if r.Spawner == nil {
		return nil, errors.New("runner: nil spawner")
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(slog.String("trigger", name))

	m := newMachine()
	if err := m.transition(StateIdle, StateDispatched); err != nil {
		return nil, err
	}
	logger.DebugContext(ctx, "dispatching handlers",
		slog.Int("count", len(handlers)),
		slog.Bool("concurrent", concurrent),
	)

	results := make([]Result, len(handlers))
	if concurrent {
		// Every slot is written by exactly one goroutine and read after Wait.
		var g errgroup.Group
		for i, h := range handlers {
			g.Go(func() error {
				results[i] = r.exec(ctx, h)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, h := range handlers {
			results[i] = r.exec(ctx, h)
		}
	}

	outcome := StateAllSucceeded
	for _, res := range results {
		if !res.Failed() {
			continue
		}
		outcome = StateOneOrMoreFailed
		attrs := []any{
			slog.String("handler", res.Handler.String()),
			slog.Int("exit_code", res.ExitCode),
		}
		if res.Err != nil {
			attrs = append(attrs, slog.String("error", res.Err.Error()))
		}
		logger.WarnContext(ctx, "handler failed", attrs...)
	}
	if err := m.transition(StateDispatched, outcome); err != nil {
		return nil, err
	}
	if err := m.transition(outcome, StateDone); err != nil {
		return nil, err
	}
	_, history := m.snapshot()

	return &Report{
		Trigger:    name,
		Concurrent: concurrent,
		Results:    results,
		Outcome:    outcome,
		History:    history,
	}, nil
}

func (r *Runner) exec(ctx context.Context, h trigger.CompiledHandler) Result {
	now := r.now
	if now == nil {
		now = time.Now
	}
	start := now()
	out, err := r.Spawner.Spawn(ctx, h.Binary, h.Args)
	return Result{
		Handler:  h,
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Err:      err,
		Duration: now().Sub(start),
	}
}
