package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hupe1980/tdaemon/internal/config"
	"github.com/hupe1980/tdaemon/internal/ignore"
	"github.com/hupe1980/tdaemon/internal/logging"
	"github.com/hupe1980/tdaemon/internal/output"
	"github.com/hupe1980/tdaemon/internal/runner"
	"github.com/hupe1980/tdaemon/internal/scan"
	"github.com/hupe1980/tdaemon/internal/state"
	"github.com/hupe1980/tdaemon/internal/watch"
)

func runDaemon(cmd *cobra.Command, command []string) error {
	cfg := config.FromContext(cmd.Context())
	logger := logging.FromContext(cmd.Context())

	// Installed before the baseline scan so an interrupt during a long
	// first walk still ends with a clean shutdown.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := resolveRoot(cfg.Path)
	if err != nil {
		return usageError(err)
	}

	if cfg.Workdir != "" {
		if _, err := resolveRoot(cfg.Workdir); err != nil {
			return usageError(fmt.Errorf("invalid --workdir: %w", err))
		}
	}

	maxSize, err := cfg.MaxSizeBytes()
	if err != nil {
		return usageError(err)
	}

	statePath := resolveStatePath(root, cfg.StateFile)

	patterns, err := collectPatterns(cfg, root, statePath, logger)
	if err != nil {
		return usageError(err)
	}

	matcher := ignore.New(ignore.Syntax(cfg.IgnoreSyntax), patterns)

	logger.Debug("watch configured",
		slog.String("root", root),
		slog.Int("patterns", len(patterns)),
		slog.String("fingerprint", cfg.Fingerprint),
		slog.Duration("interval", cfg.Interval),
		slog.Int64("maxSize", maxSize),
	)

	rep := output.NewReporter(cmd.OutOrStdout(),
		output.WithColor(!cfg.NoColor),
		output.WithVerbosity(cfg.Verbose),
	)

	var store *state.Store

	seed := map[string]int{}

	if statePath != "" {
		store = state.NewStore(statePath, state.WithLogger(logging.Component(logger, "state")))

		st, loadErr := store.Load(ctx)
		if loadErr != nil {
			logger.Warn("ignoring unreadable state", slog.String("error", loadErr.Error()))
		} else {
			seed = st.Hot
		}
	}

	opts := watch.DefaultOptions()
	opts.Command = command
	opts.Interval = cfg.Interval
	opts.SizeThreshold = maxSize
	opts.FullScanEvery = cfg.FullScanEvery
	opts.HotLimit = cfg.HotLimit
	opts.HotSeed = seed
	opts.RerunOnChange = cfg.RerunOnChange
	opts.Verbosity = cfg.Verbose
	opts.Logger = logging.Component(logger, "watch")
	opts.Reporter = rep
	opts.Confirm = newConfirmFunc(cmd.InOrStdin(), cmd.ErrOrStderr(), root, cfg.Yes)

	if cfg.Notify {
		n, notifyErr := watch.NewNotifier(root, matcher, watch.DefaultNotifyDebounce, logging.Component(logger, "notify"))
		if notifyErr != nil {
			logger.Warn("filesystem notifications unavailable, polling only", slog.String("error", notifyErr.Error()))
		} else {
			defer n.Close() //nolint:errcheck // best effort on shutdown

			n.Start(ctx)
			opts.Wake = n.C()
		}
	}

	scanner := scan.New(root, scan.Options{
		Matcher: matcher,
		Mode:    scan.Mode(cfg.Fingerprint),
		Logger:  logging.Component(logger, "scan"),
	})

	run := runner.New(
		runner.WithDir(cfg.Workdir),
		runner.WithStdout(cmd.OutOrStdout()),
		runner.WithStderr(cmd.ErrOrStderr()),
		runner.WithLogger(logging.Component(logger, "run")),
	)

	loop, err := watch.New(scanner, run, opts)
	if err != nil {
		return usageError(err)
	}

	if err := loop.Start(ctx); err != nil {
		if ctx.Err() != nil {
			rep.Bye()
			return nil
		}

		if errors.Is(err, watch.ErrDeclined) {
			fmt.Fprintln(cmd.OutOrStdout(), "Not watching.")
		}

		return &ExitError{Code: 1, Err: err}
	}

	if err := loop.Run(ctx); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	if store != nil {
		// The daemon context is already cancelled at this point.
		saveCtx := context.WithoutCancel(ctx)
		if err := store.Save(saveCtx, &state.State{Hot: loop.Hot().Counts()}); err != nil {
			rep.Warn(fmt.Sprintf("hot files not saved: %v", err))
		}
	}

	rep.Bye()

	return nil
}

// resolveRoot returns the absolute form of dir, which must be a directory.
func resolveRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("watch path %q: %w", dir, err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("watch path %q is not a directory", dir)
	}

	return abs, nil
}

func resolveStatePath(root, stateFile string) string {
	if stateFile == "" {
		return ""
	}

	if filepath.IsAbs(stateFile) {
		return stateFile
	}

	return filepath.Join(root, stateFile)
}

// collectPatterns merges the built-in defaults, --ignore and .gitignore.
// The state file and its lock and temporary siblings are always excluded
// when they live inside the watched tree.
func collectPatterns(cfg *config.Config, root, statePath string, logger *slog.Logger) ([]string, error) {
	extra, err := cfg.IgnorePatterns()
	if err != nil {
		return nil, fmt.Errorf("invalid --ignore value: %w", err)
	}

	patterns := append([]string{}, ignore.DefaultPatterns...)
	patterns = append(patterns, extra...)

	if statePath != "" {
		if rel, relErr := filepath.Rel(root, statePath); relErr == nil && !strings.HasPrefix(rel, "..") {
			patterns = append(patterns, "/"+filepath.ToSlash(rel)+"*")
		}
	}

	if !cfg.NoGitignore {
		lines, readErr := ignore.ReadFile(afero.NewOsFs(), filepath.Join(root, ".gitignore"))
		if readErr != nil {
			logger.Warn("ignoring unreadable .gitignore", slog.String("error", readErr.Error()))
		}

		patterns = append(patterns, lines...)
	}

	return patterns, nil
}
