// Package cli implements the tdaemon command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hupe1980/tdaemon/internal/config"
	"github.com/hupe1980/tdaemon/internal/logging"
	"github.com/hupe1980/tdaemon/internal/version"
)

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// usageError marks a configuration problem (exit code 2).
func usageError(err error) error {
	return &ExitError{Code: 2, Err: err}
}

// Execute builds the root command, runs it, and returns the exit code.
func Execute() int {
	cmd := NewRootCommand()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}

		return 1
	}

	return 0
}

// NewRootCommand constructs the tdaemon command.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	info := version.GetInfo()

	cmd := &cobra.Command{
		Use:   "tdaemon [flags] [--] COMMAND [ARGS...]",
		Short: "Run a command whenever files under a directory change",
		Long: `tdaemon polls a directory tree and runs COMMAND each time a file is
added, removed or modified. Changes that land between two polls are
batched into a single run. Files saved while the command runs are
absorbed into the next baseline and not tested again; pass
--rerun-on-change to have them trigger another run.

COMMAND is executed directly, without a shell, in the directory tdaemon
was started from (override with --workdir). Its output is forwarded and
its exit status reported; a failing command never stops the daemon.

Paths are excluded with glob patterns from built-in defaults (VCS
directories, editor swap files, compiled Python), --ignore, and the
.gitignore at the top of the watched tree. Excluded directories are
never descended into.

Exit codes: 0 on Ctrl-C, 2 for invalid flags, configuration or watch
path, 1 when the size confirmation is declined or startup fails.`,
		Example: `  tdaemon go test ./...
  tdaemon --path ./src --ignore '*.log,tmp' -- make test
  tdaemon --fingerprint hash --notify -V pytest -x`,
		Version:       info.Version,
		Args:          requireCommand,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return usageError(err)
			}

			logger := logging.SetupWithWriter(cfg, cmd.ErrOrStderr())

			ctx := cmd.Context()
			ctx = config.NewContext(ctx, cfg)
			ctx = logging.NewContext(ctx, logger)
			cmd.SetContext(ctx)

			logger.Debug("configuration loaded",
				slog.String("logLevel", cfg.EffectiveLogLevel()),
				slog.String("logFormat", cfg.LogFormat),
				slog.String("configFile", cfg.ConfigFile),
			)

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, args)
		},
	}

	cmd.SetVersionTemplate(info.String() + "\n")

	// Everything after COMMAND belongs to COMMAND.
	cmd.Flags().SetInterspersed(false)

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .tdaemon.yaml)")
	pf.String("log-level", config.LogLevelInfo, "log level: debug, info, warn, error")
	pf.String("log-format", config.LogFormatText, "log format: text, json")
	pf.Bool("no-color", false, "disable colored output")
	pf.BoolP("quiet", "q", false, "only log errors")

	registerDaemonFlags(cmd.Flags())

	// Flag parsing errors return exit code 2.
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	return cmd
}

// registerDaemonFlags adds the watch and run flags. Defaults come from
// config.Default so that help text and unflagged runs agree.
func registerDaemonFlags(f *pflag.FlagSet) {
	d := config.Default()

	f.String("path", d.Path, "directory tree to watch")
	f.String("ignore", "", "comma-separated glob patterns to exclude, in addition to the defaults")
	f.String("ignore-syntax", d.IgnoreSyntax, "pattern dialect: glob, gitignore")
	f.Bool("no-gitignore", false, "do not read .gitignore from the watched tree")
	f.Duration("interval", d.Interval, "poll interval")
	f.String("max-size", d.MaxSize, "ask before watching a tree larger than this quantity (0 disables)")
	f.String("fingerprint", d.Fingerprint, "change detection: stat (size and mtime), hash (content)")
	f.Int("full-scan-every", d.FullScanEvery, "walk the whole tree every N polls and only hot files in between")
	f.Int("hot-limit", d.HotLimit, "number of frequently changed files to remember")
	f.String("state-file", d.StateFile, "where hot files are persisted, relative to --path (empty disables)")
	f.Bool("notify", false, "also wake up on filesystem notifications")
	f.String("workdir", "", "working directory for COMMAND (default: current directory)")
	f.Bool("rerun-on-change", false, "run COMMAND again when files were saved while it ran")
	f.BoolP("yes", "y", false, "do not ask before watching a large tree")
	f.CountP("verbose", "V", "list changed files (-V), add scan statistics and diffs (-VV)")
	f.String("require-version", "", "semver constraint the tdaemon binary must satisfy")
}

func requireCommand(_ *cobra.Command, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return usageError(errors.New("please specify a command to run"))
	}

	return nil
}
