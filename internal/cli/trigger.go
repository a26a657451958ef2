package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"systrigger/internal/dag"
	"systrigger/internal/engine"
	"systrigger/internal/lock"
	"systrigger/internal/metrics"
	"systrigger/internal/osenv"
	"systrigger/internal/pathtimes"
	"systrigger/internal/runner"
	"systrigger/internal/trace"
	"systrigger/internal/trigger"
	"systrigger/internal/watch"
)

type runFlags struct {
	force       bool
	tracePath   string
	metricsPath string
	debounce    time.Duration
}

func (a *app) triggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger-oriented operations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the triggers in the order they run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.triggerList(cmd)
		},
	}

	var rf runFlags
	run := &cobra.Command{
		Use:   "run [name...]",
		Short: "Run triggers whose paths changed",
		Long:  "Runs the handlers of every trigger whose paths changed since the last run, or only of the named triggers. Handler failures are reported but do not change the exit status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.triggerRun(cmd.Context(), args, rf)
		},
	}
	run.Flags().BoolVarP(&rf.force, "force", "f", false, "run handlers for every path, changed or not")
	run.Flags().StringVar(&rf.tracePath, "trace", "", "write the canonical execution trace to this file")
	run.Flags().StringVar(&rf.metricsPath, "metrics-file", "", "write run metrics in Prometheus text format to this file")

	var wf runFlags
	watchCmd := &cobra.Command{
		Use:   "watch [name...]",
		Short: "Run triggers, then again whenever their paths change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.triggerWatch(cmd.Context(), args, wf)
		},
	}
	watchCmd.Flags().DurationVar(&wf.debounce, "debounce", watch.DefaultDebounce, "quiet period before re-running")
	watchCmd.Flags().StringVar(&wf.metricsPath, "metrics-file", "", "write run metrics in Prometheus text format to this file after each run")

	cmd.AddCommand(list, run, watchCmd)
	return cmd
}

func (a *app) triggerList(cmd *cobra.Command) error {
	triggers, err := trigger.LoadDir(a.cfg.TriggerDir)
	if err != nil {
		return err
	}
	nodes := make([]dag.Node, 0, len(triggers))
	for _, t := range triggers {
		nodes = append(nodes, dag.Node{Name: t.Name, Dependencies: t.Dependencies})
	}
	g, err := dag.New(nodes)
	if err != nil {
		return err
	}

	byName := trigger.Index(triggers)
	out := cmd.OutOrStdout()
	for _, name := range g.Order() {
		if d := byName[name].Description; d != "" {
			fmt.Fprintf(out, "%s - %s\n", name, d)
			continue
		}
		fmt.Fprintln(out, name)
	}
	return nil
}

// session holds what a mutating command keeps open while it runs.
type session struct {
	triggers []*trigger.Trigger
	engine   *engine.Engine
	lock     *lock.Lock
	times    *pathtimes.Store
}

func (s *session) close() {
	if s.times != nil {
		_ = s.times.Close()
	}
	_ = s.lock.Release()
}

func (a *app) openSession(ctx context.Context) (*session, error) {
	triggers, err := trigger.LoadDir(a.cfg.TriggerDir)
	if err != nil {
		return nil, err
	}

	lk, err := lock.Acquire(lock.PathFor(a.cfg.Database))
	if err != nil {
		return nil, err
	}
	s := &session{triggers: triggers, lock: lk}

	store, err := a.openDatabase()
	if err != nil {
		s.close()
		return nil, err
	}

	s.times, err = pathtimes.Open(pathtimes.Config{Path: a.cfg.TimesDatabase, Logger: a.logger})
	if err != nil {
		a.logger.WarnContext(ctx, "path-times index unavailable, continuing without it", slog.String("error", err.Error()))
		s.times = nil
	}

	env, derr := a.detect(a.cfg.Root)
	s.engine = &engine.Engine{
		Store:    store,
		Times:    s.times,
		Gate:     osenv.NewGate(env, derr),
		Runner:   runner.New(a.spawner(a.cfg.Root), a.logger),
		Logger:   a.logger,
		Out:      a.stdout,
		Err:      a.stderr,
		Database: a.cfg.Database,
	}
	return s, nil
}

func (a *app) triggerRun(ctx context.Context, names []string, rf runFlags) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	var rec *trace.Recorder
	if rf.tracePath != "" {
		rec = trace.NewRecorder()
		s.engine.Sink = rec
	}
	if rf.metricsPath != "" {
		s.engine.Metrics = metrics.New()
	}

	sum, runErr := s.engine.Run(ctx, s.triggers, engine.Options{Force: rf.force, Names: names})
	if sum != nil {
		if sum.FailedHandlers > 0 {
			a.logger.WarnContext(ctx, "some handlers failed", slog.String("summary", sum.String()))
		}
		if rec != nil {
			if err := writeTrace(rf.tracePath, rec, sum, s.engine.Gate.Env()); err != nil {
				return joinErr(runErr, err)
			}
		}
		if err := s.engine.Metrics.WriteTextfile(rf.metricsPath); err != nil {
			return joinErr(runErr, err)
		}
	}
	return runErr
}

func joinErr(first, second error) error {
	if first != nil {
		return first
	}
	return second
}

func writeTrace(path string, rec *trace.Recorder, sum *engine.Summary, env osenv.Env) error {
	tr := rec.Trace(string(sum.GraphHash), env.String())
	b, err := tr.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

func (a *app) triggerWatch(ctx context.Context, names []string, wf runFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	if wf.metricsPath != "" {
		s.engine.Metrics = metrics.New()
	}

	w := &watch.Watcher{
		Roots:    watchRoots(s.triggers, names),
		Debounce: wf.debounce,
		Logger:   a.logger,
		Ignore:   a.ownFiles,
		Run: func(ctx context.Context, changed []string) error {
			if len(changed) > 0 {
				a.logger.InfoContext(ctx, "paths changed", slog.Int("count", len(changed)))
			}
			_, err := s.engine.Run(ctx, s.triggers, engine.Options{Names: names})
			if err != nil {
				return err
			}
			if err := s.engine.Metrics.WriteTextfile(wf.metricsPath); err != nil {
				a.logger.WarnContext(ctx, "metrics not written", slog.String("error", err.Error()))
			}
			return nil
		},
	}
	return w.Watch(ctx)
}

// watchRoots returns the pattern roots of the selected triggers.
func watchRoots(triggers []*trigger.Trigger, names []string) []string {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	seen := make(map[string]bool)
	var roots []string
	for _, t := range triggers {
		if len(want) > 0 && !want[t.Name] {
			continue
		}
		for _, p := range t.PatternList() {
			if r := p.Root(); !seen[r] {
				seen[r] = true
				roots = append(roots, r)
			}
		}
	}
	return roots
}

// ownFiles matches the files systrigger itself writes, so saving the
// database does not wake the watcher.
func (a *app) ownFiles(path string) bool {
	db := filepath.Clean(a.cfg.Database)
	if path == db || strings.HasPrefix(path, db+".") {
		return true
	}
	times := filepath.Clean(a.cfg.TimesDatabase)
	return path == times || strings.HasPrefix(path, times+string(filepath.Separator))
}
