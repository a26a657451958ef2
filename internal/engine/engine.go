// Package engine drives a trigger run: it orders the triggers, gates them on
// the environment, diffs their paths against the database, runs the handlers
// of outdated paths and records the new state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"systrigger/internal/dag"
	"systrigger/internal/metrics"
	"systrigger/internal/osenv"
	"systrigger/internal/pathdb"
	"systrigger/internal/pathtimes"
	"systrigger/internal/runner"
	"systrigger/internal/trace"
	"systrigger/internal/trigger"
)

// ErrUnknownTrigger is returned when a requested trigger name is not loaded.
var ErrUnknownTrigger = errors.New("unknown trigger")

// Options select what a run does.
type Options struct {
	// Force runs the handlers of every discovered path, changed or not.
	Force bool

	// Names restricts the run to these triggers. Empty means all of them.
	// Dependencies of a named trigger are not added implicitly.
	Names []string
}

// Engine holds the collaborators of a run. Store, Runner, Out and Err are
// required; everything else is optional.
type Engine struct {
	Store  *pathdb.Store
	Times  *pathtimes.Store
	Gate   osenv.Gate
	Runner *runner.Runner

	Logger  *slog.Logger
	Out     io.Writer
	Err     io.Writer
	Sink    trace.Sink
	Metrics *metrics.Recorder

	// Discover lists the current paths of a trigger. Defaults to expanding
	// the trigger's patterns.
	Discover func(t *trigger.Trigger) ([]string, error)

	// Database is where the store is saved once the run ends. Empty skips
	// saving.
	Database string
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	GraphHash dag.Hash

	Inhibited []string
	UpToDate  []string
	Executed  []string

	// FailedHandlers counts handlers that exited non-zero or never started.
	FailedHandlers int

	Reports []*runner.Report
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d executed, %d up to date, %d inhibited, %d failed handlers",
		len(s.Executed), len(s.UpToDate), len(s.Inhibited), s.FailedHandlers)
}

// Run evaluates triggers in dependency order.
//
// Ordering, cycle and unknown-dependency checks cover every trigger in
// triggers even when opts.Names selects a subset; a structural error aborts
// the run before anything executes. Handler failures never abort the run.
// A discovery error stops the run after saving the state committed so far.
//
// ctx is only checked between triggers: handlers already started are always
// waited for.
func (e *Engine) Run(ctx context.Context, triggers []*trigger.Trigger, opts Options) (*Summary, error) {
	if e.Store == nil || e.Runner == nil {
		return nil, errors.New("engine: store and runner are required")
	}

	nodes := make([]dag.Node, 0, len(triggers))
	for _, t := range triggers {
		nodes = append(nodes, dag.Node{Name: t.Name, Dependencies: t.Dependencies})
	}
	graph, err := dag.New(nodes)
	if err != nil {
		return nil, err
	}

	selected, err := selection(graph, opts.Names)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		RunID:     uuid.NewString()[:12],
		GraphHash: graph.Hash(),
	}
	logger := e.logger().With(slog.String("run_id", sum.RunID))
	logger.InfoContext(ctx, "trigger run started",
		slog.Int("triggers", len(triggers)),
		slog.String("environment", e.Gate.Env().String()),
		slog.Bool("force", opts.Force),
	)
	if gerr := e.Gate.Err(); gerr != nil {
		logger.WarnContext(ctx, "environment detection failed, nothing is inhibited", slog.String("error", gerr.Error()))
	}

	byName := trigger.Index(triggers)
	var runErr error
	for _, name := range graph.Order() {
		if selected != nil && !selected[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := e.runTrigger(ctx, logger, byName[name], opts.Force, sum); err != nil {
			runErr = err
			break
		}
	}

	if e.Database != "" {
		if err := e.Store.SaveFile(e.Database); err != nil {
			return sum, errors.Join(runErr, err)
		}
	}
	e.Metrics.Finished(time.Now())

	logger.InfoContext(ctx, "trigger run finished",
		slog.Int("executed", len(sum.Executed)),
		slog.Int("up_to_date", len(sum.UpToDate)),
		slog.Int("inhibited", len(sum.Inhibited)),
		slog.Int("failed_handlers", sum.FailedHandlers),
	)
	return sum, runErr
}

func selection(g *dag.Graph, names []string) (map[string]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	selected := make(map[string]bool, len(names))
	var unknown []string
	for _, n := range names {
		if !g.Has(n) {
			unknown = append(unknown, n)
			continue
		}
		selected[n] = true
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrigger, strings.Join(unknown, ", "))
	}
	return selected, nil
}

func (e *Engine) runTrigger(ctx context.Context, logger *slog.Logger, t *trigger.Trigger, force bool, sum *Summary) error {
	logger = logger.With(slog.String("trigger", t.Name))

	if e.Gate.Inhibited(t.Environment) {
		fmt.Fprintf(e.Out, "Skipping %s because of inhibitors\n", t.Name)
		logger.InfoContext(ctx, "trigger inhibited", slog.String("rule", t.Environment.String()))
		sum.Inhibited = append(sum.Inhibited, t.Name)
		e.record(trace.TraceEvent{Kind: trace.EventTriggerInhibited, TriggerID: t.Name, Reason: trace.ReasonEnvironment})
		e.Metrics.Trigger(metrics.OutcomeInhibited)
		return nil
	}

	paths, err := e.discover(t)
	if err != nil {
		return fmt.Errorf("discover paths of %s: %w", t.Name, err)
	}
	current, err := pathdb.Snapshot(storable(ctx, logger, paths))
	if err != nil {
		return fmt.Errorf("stat paths of %s: %w", t.Name, err)
	}

	diffs := e.Store.Diff(t.Name, current)
	outdated := pathdb.Outdated(diffs, force)
	retained := pathdb.Retained(diffs)
	removed := pathdb.RemovedPaths(diffs)
	e.Metrics.OutdatedPaths(t.Name, len(outdated))

	handlers := trigger.Compile(t, outdated)
	if len(handlers) == 0 {
		fmt.Fprintf(e.Out, "Skipping %s\n", t.Name)
		reason := trace.ReasonNoChanges
		if len(outdated) > 0 {
			reason = trace.ReasonNoHandlers
		}
		logger.DebugContext(ctx, "trigger up to date", slog.Int("paths", current.Len()))
		sum.UpToDate = append(sum.UpToDate, t.Name)
		e.record(trace.TraceEvent{Kind: trace.EventTriggerUpToDate, TriggerID: t.Name, Reason: reason})
		e.Metrics.Trigger(metrics.OutcomeUpToDate)
	} else {
		fmt.Fprintf(e.Out, "Running %s\n", t.Name)
		logger.InfoContext(ctx, "running trigger",
			slog.Int("outdated", len(outdated)),
			slog.Int("handlers", len(handlers)),
			slog.Bool("concurrent", t.Concurrent),
		)
		reason := trace.ReasonPathsChanged
		if force {
			reason = trace.ReasonForced
		}
		e.record(trace.TraceEvent{Kind: trace.EventTriggerExecuted, TriggerID: t.Name, Reason: reason, Paths: outdated})

		report, err := e.Runner.Run(ctx, t.Name, handlers, t.Concurrent)
		if err != nil {
			e.Store.Commit(t.Name, retained)
			return fmt.Errorf("run %s: %w", t.Name, err)
		}
		e.report(t.Name, report)
		sum.Executed = append(sum.Executed, t.Name)
		sum.Reports = append(sum.Reports, report)
		sum.FailedHandlers += len(report.Failures())
	}

	// Paths are recorded as seen whatever the handlers' outcome.
	e.Store.Commit(t.Name, retained)
	if e.Times != nil {
		if err := e.Times.Record(retained.Files(), removed); err != nil {
			logger.WarnContext(ctx, "path-times index not updated", slog.String("error", err.Error()))
		}
	}
	return nil
}

// storable drops the paths the database cannot record.
func storable(ctx context.Context, logger *slog.Logger, paths []string) []string {
	out := paths[:0:0]
	for _, p := range paths {
		if !pathdb.Storable(p) {
			logger.WarnContext(ctx, "ignoring path containing a line break", slog.String("path", p))
			continue
		}
		out = append(out, p)
	}
	return out
}

func (e *Engine) report(name string, report *runner.Report) {
	for _, res := range report.Results {
		e.Metrics.Handler(metrics.ExitResult(res.SpawnFailed(), res.ExitCode), res.Duration)
		if !res.Failed() {
			continue
		}
		cmd := res.Handler.String()
		if res.Err != nil {
			fmt.Fprintf(e.Err, "Failed to execute handler: %s\n", cmd)
			fmt.Fprintf(e.Err, "   Error: %v\n", res.Err)
			e.record(trace.TraceEvent{Kind: trace.EventHandlerSpawnFailed, TriggerID: name, Reason: trace.ReasonSpawnFailure, Handler: cmd})
			continue
		}
		fmt.Fprintf(e.Err, "Handler exited with non-zero status code: %s\n", cmd)
		fmt.Fprintf(e.Err, "   Stdout: %s\n", res.Stdout)
		fmt.Fprintf(e.Err, "   Stderr: %s\n", res.Stderr)
		e.record(trace.TraceEvent{Kind: trace.EventHandlerFailed, TriggerID: name, Reason: trace.ReasonNonZeroExit, Handler: cmd})
	}
	if report.Succeeded() {
		e.Metrics.Trigger(metrics.OutcomeSucceeded)
	} else {
		e.Metrics.Trigger(metrics.OutcomeFailed)
	}
}

func (e *Engine) discover(t *trigger.Trigger) ([]string, error) {
	if e.Discover != nil {
		return e.Discover(t)
	}
	return t.Discover()
}

func (e *Engine) record(ev trace.TraceEvent) {
	trace.SafeRecord(e.Sink, ev)
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}
