// Package cli implements the systrigger command tree and maps command
// outcomes to exit codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"systrigger/internal/config"
	"systrigger/internal/logging"
	"systrigger/internal/osenv"
	"systrigger/internal/runner"
)

// app is the state shared by the commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfg    config.Config
	logger *slog.Logger

	// started is set once argument parsing succeeded; errors before that
	// are invocation errors.
	started bool

	// Replaced in tests.
	spawner func(dir string) runner.Spawner
	detect  func(root string) (osenv.Env, error)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		logger: logging.Discard(),
		spawner: func(dir string) runner.Spawner {
			return runner.ExecSpawner{Dir: dir}
		},
		detect: osenv.DetectFromRoot,
	}
}

// Run executes the command line args (without the program name) and returns
// the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).run(ctx, args)
}

func (a *app) run(ctx context.Context, args []string) int {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	code := ExitCode(err)
	if !a.started {
		code = ExitInvalidInvocation
	}
	if !isSilent(err) {
		fmt.Fprintf(a.stderr, "Error: %s\n", err)
		if !a.started {
			fmt.Fprintf(a.stderr, "Run '%s --help' for usage.\n", root.CommandPath())
		}
	}
	return code
}

func isSilent(err error) bool {
	var e *ExitError
	return errors.As(err, &e) && e.Message == ""
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "systrigger",
		Short:         "Run system triggers for changed paths",
		Long:          "systrigger keeps system caches up to date by running trigger handlers for the files that changed since the last run.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.started = true
			return a.setup(cmd)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(a.pathCommand(), a.triggerCommand())
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: a.stderr})
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}
