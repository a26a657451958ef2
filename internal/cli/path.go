package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"systrigger/internal/pathdb"
	"systrigger/internal/pathtimes"
	"systrigger/internal/trigger"
)

func (a *app) pathCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Path-oriented operations",
	}

	var update bool
	check := &cobra.Command{
		Use:   "check <path>",
		Short: "Check whether a path requires triggers to run again",
		Long:  "Exits 1 and reports the path when it is unknown or its modification time differs from the recorded one.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.pathCheck(cmd, args[0], update)
		},
	}
	check.Flags().BoolVar(&update, "update", false, "record the current modification time after checking")

	listTriggers := &cobra.Command{
		Use:   "list-triggers <path>",
		Short: "List the triggers handling a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.pathListTriggers(cmd, args[0])
		},
	}

	cmd.AddCommand(check, listTriggers)
	return cmd
}

func absPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return abs, nil
}

func (a *app) pathCheck(cmd *cobra.Command, arg string, update bool) error {
	path, err := absPath(arg)
	if err != nil {
		return err
	}
	logger := a.logger.With(slog.String("path", path))

	times, err := pathtimes.Open(pathtimes.Config{Path: a.cfg.TimesDatabase, Logger: a.logger})
	if err != nil {
		if update {
			return fmt.Errorf("open path-times index: %w", err)
		}
		logger.Warn("path-times index unavailable", slog.String("error", err.Error()))
		times = nil
	}
	if times != nil {
		defer times.Close()
	}

	recorded, err := a.recordedMtimes(times, path)
	if err != nil {
		return err
	}

	known := len(recorded) > 0
	stale := !known
	var current int64
	if known || update {
		current, err = pathdb.Mtime(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", arg, err)
		}
		stale = !slices.Contains(recorded, current)
	}
	logger.Debug("path checked", slog.Bool("known", known), slog.Bool("stale", stale))

	if update {
		if err := times.Update(path, current); err != nil {
			return fmt.Errorf("update path-times index: %w", err)
		}
	}
	if stale {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s is out of date\n", arg)
		return &ExitError{Code: ExitStale}
	}
	return nil
}

// recordedMtimes returns the modification times recorded for path, the
// path database's first and then the path-times index's. A path is current
// when either of them matches its modification time.
func (a *app) recordedMtimes(times *pathtimes.Store, path string) ([]int64, error) {
	db, err := a.openDatabase()
	if err != nil {
		return nil, err
	}
	var recorded []int64
	if f, ok := db.Lookup(path); ok {
		recorded = append(recorded, f.Mtime)
	}

	if times != nil {
		mtime, ok, err := times.Get(path)
		if err != nil {
			return nil, fmt.Errorf("read path-times index: %w", err)
		}
		if ok {
			recorded = append(recorded, mtime)
		}
	}
	return recorded, nil
}

// openDatabase loads the path database. A corrupt database is reported and
// treated as empty so the next run rebuilds it.
func (a *app) openDatabase() (*pathdb.Store, error) {
	db, err := pathdb.Open(a.cfg.Database)
	if errors.Is(err, pathdb.ErrFormat) {
		a.logger.Warn("path database is corrupt, starting from an empty one",
			slog.String("database", a.cfg.Database),
			slog.String("error", err.Error()),
		)
		return pathdb.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open path database: %w", err)
	}
	return db, nil
}

func (a *app) pathListTriggers(cmd *cobra.Command, arg string) error {
	path, err := absPath(arg)
	if err != nil {
		return err
	}
	triggers, err := trigger.LoadDir(a.cfg.TriggerDir)
	if err != nil {
		return err
	}
	for _, t := range triggers {
		if t.Matches(path) {
			fmt.Fprintln(cmd.OutOrStdout(), t.Name)
		}
	}
	return nil
}
