package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hupe1980/tdaemon/internal/runner"
	"github.com/hupe1980/tdaemon/internal/scan"
	"github.com/hupe1980/tdaemon/internal/snapshot"
)

// ErrDeclined is returned by Start when the user refuses to watch a tree
// larger than the size threshold.
var ErrDeclined = errors.New("watching declined")

// State is the loop's current phase.
type State int32

// Loop states.
const (
	Idle State = iota
	Scanning
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Snapshotter captures the watched tree.
type Snapshotter interface {
	Scan(ctx context.Context, prev *snapshot.Snapshot) (*snapshot.Snapshot, scan.Stats, error)
	Refresh(ctx context.Context, prev *snapshot.Snapshot, paths []string) (*snapshot.Snapshot, scan.Stats, error)
}

// CommandRunner runs the user's command to completion.
type CommandRunner interface {
	Run(ctx context.Context, command string, args ...string) runner.Result
}

// Reporter receives user-facing progress.
type Reporter interface {
	Ready(root string, files int, totalSize int64)
	Changes(cs snapshot.ChangeSet)
	RunStarted(argv []string, cs snapshot.ChangeSet)
	RunFinished(res runner.Result)
	Stats(st scan.Stats)
	Diff(unified string)
	Warn(msg string)
}

// ConfirmFunc asks whether to keep watching a tree of totalSize bytes
// spread over files, which exceeds threshold.
type ConfirmFunc func(totalSize, threshold int64, files int) (bool, error)

// Options configures a Loop.
type Options struct {
	// Command is the argv run on every significant change.
	Command []string

	// Interval is the poll period.
	Interval time.Duration

	// SizeThreshold triggers Confirm when the baseline is larger. Zero
	// disables the check.
	SizeThreshold int64

	// Confirm is asked once at startup. Nil proceeds with a warning.
	Confirm ConfirmFunc

	// FullScanEvery makes only every Nth cycle a full scan; the others
	// refresh hot paths. Values below 2 make every cycle a full scan.
	FullScanEvery int

	// RerunOnChange keeps the pre-run snapshot as the baseline, so edits
	// made while the command ran show up in the next cycle.
	RerunOnChange bool

	// HotLimit bounds the hot list.
	HotLimit int

	// HotSeed restores counts from a previous session.
	HotSeed map[string]int

	// Wake, when set, starts a cycle before the next tick.
	Wake <-chan struct{}

	// Verbosity at 2 or above reports manifest diffs.
	Verbosity int

	// Logger is used for structured logging.
	Logger *slog.Logger

	// Reporter receives status updates. Nil reports nothing.
	Reporter Reporter
}

// DefaultOptions returns the options used by the CLI without flags.
func DefaultOptions() Options {
	return Options{
		Interval:      time.Second,
		SizeThreshold: 25 << 20,
		FullScanEvery: 1,
		HotLimit:      20,
		Logger:        slog.Default(),
	}
}

// Loop is the polling state machine. Its methods must be called from a
// single goroutine; State, Runs and Hot may be read from any.
type Loop struct {
	scanner Snapshotter
	runner  CommandRunner
	opts    Options
	hot     *HotList

	state atomic.Int32
	runs  atomic.Int64

	prev  *snapshot.Snapshot
	cycle int
}

// New creates a Loop.
func New(scanner Snapshotter, r CommandRunner, opts Options) (*Loop, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, errors.New("no command to run")
	}

	if opts.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", opts.Interval)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}

	return &Loop{
		scanner: scanner,
		runner:  r,
		opts:    opts,
		hot:     NewHotList(opts.HotLimit, opts.HotSeed),
	}, nil
}

// State returns the current phase.
func (l *Loop) State() State { return State(l.state.Load()) }

// Runs returns how many times the command has run.
func (l *Loop) Runs() int { return int(l.runs.Load()) }

// Hot returns the hot list.
func (l *Loop) Hot() *HotList { return l.hot }

// Snapshot returns the current baseline.
func (l *Loop) Snapshot() *snapshot.Snapshot { return l.prev }

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// Start takes the baseline snapshot and runs the size check. The baseline
// never triggers a run.
func (l *Loop) Start(ctx context.Context) error {
	l.setState(Scanning)
	defer l.setState(Idle)

	snap, st, err := l.scanner.Scan(ctx, nil)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	l.opts.Reporter.Stats(st)
	l.opts.Logger.Debug("baseline taken",
		slog.Int("files", snap.Len()),
		slog.Int64("bytes", snap.TotalSize()),
		slog.Duration("took", st.Duration),
	)

	if l.opts.SizeThreshold > 0 && snap.TotalSize() > l.opts.SizeThreshold {
		if l.opts.Confirm == nil {
			l.opts.Logger.Warn("watched tree exceeds size threshold",
				slog.Int64("bytes", snap.TotalSize()),
				slog.Int64("threshold", l.opts.SizeThreshold),
			)
		} else {
			ok, confirmErr := l.opts.Confirm(snap.TotalSize(), l.opts.SizeThreshold, snap.Len())
			if confirmErr != nil {
				return fmt.Errorf("confirming tree size: %w", confirmErr)
			}

			if !ok {
				return ErrDeclined
			}
		}
	}

	l.prev = snap
	l.cycle = 0
	l.forgetMissing(snap)
	l.opts.Reporter.Ready(snap.Root(), snap.Len(), snap.TotalSize())

	return nil
}

// Step runs one SCANNING pass and, on a significant change, the command. It
// reports whether the command ran. Scan failures are logged and the previous
// baseline kept; only a cancelled context is returned as an error.
func (l *Loop) Step(ctx context.Context) (bool, error) {
	if l.prev == nil {
		return false, errors.New("loop not started")
	}

	l.setState(Scanning)
	defer l.setState(Idle)

	l.cycle++

	curr, st, err := l.capture(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}

		l.opts.Logger.Warn("scan failed, keeping previous snapshot", slog.String("error", err.Error()))

		return false, nil
	}

	l.opts.Reporter.Stats(st)

	cs := snapshot.Diff(l.prev, curr)
	if !cs.IsSignificant() {
		l.prev = curr
		return false, nil
	}

	l.hot.Record(cs.Touched())
	l.hot.Forget(cs.Removed)
	l.opts.Reporter.Changes(cs)

	if l.opts.Verbosity >= 2 {
		if unified, diffErr := snapshot.ManifestDiff(l.prev, curr, 0); diffErr == nil {
			l.opts.Reporter.Diff(unified)
		}
	}

	l.run(ctx, cs)

	if l.opts.RerunOnChange {
		l.prev = curr
		return true, nil
	}

	// Whatever changed while the command ran belongs to the new baseline.
	l.setState(Scanning)

	base, _, err := l.scanner.Scan(ctx, curr)
	if err != nil {
		if ctx.Err() == nil {
			l.opts.Logger.Warn("post-run scan failed", slog.String("error", err.Error()))
		}

		base = curr
	}

	l.prev = base

	return true, nil
}

// forgetMissing drops hot paths the baseline does not hold, such as files
// deleted or excluded since the hot list was saved.
func (l *Loop) forgetMissing(snap *snapshot.Snapshot) {
	var stale []string

	for _, p := range l.hot.Paths() {
		if _, ok := snap.Get(p); !ok {
			stale = append(stale, p)
		}
	}

	if len(stale) > 0 {
		l.opts.Logger.Debug("forgetting hot paths not in the baseline", slog.Int("paths", len(stale)))
		l.hot.Forget(stale)
	}
}

func (l *Loop) capture(ctx context.Context) (*snapshot.Snapshot, scan.Stats, error) {
	n := l.opts.FullScanEvery
	if n > 1 && l.cycle%n != 0 && l.hot.Len() > 0 {
		return l.scanner.Refresh(ctx, l.prev, l.hot.Paths())
	}

	return l.scanner.Scan(ctx, l.prev)
}

func (l *Loop) run(ctx context.Context, cs snapshot.ChangeSet) {
	l.setState(Running)

	l.opts.Reporter.RunStarted(l.opts.Command, cs)
	l.opts.Logger.Info("running command",
		slog.Int("added", len(cs.Added)),
		slog.Int("modified", len(cs.Modified)),
		slog.Int("removed", len(cs.Removed)),
	)

	res := l.runner.Run(ctx, l.opts.Command[0], l.opts.Command[1:]...)
	l.runs.Add(1)

	l.opts.Reporter.RunFinished(res)

	if res.Err != nil {
		l.opts.Logger.Error("command failed to run", slog.String("error", res.Err.Error()))
	}
}

// Run starts the loop if needed and polls until ctx is cancelled or the
// process receives SIGINT or SIGTERM. It stops only between cycles and
// returns nil on such a shutdown.
func (l *Loop) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if l.prev == nil {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-l.opts.Wake:
			l.opts.Logger.Debug("woken up early")
		}

		if _, err := l.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}
	}
}

type nopReporter struct{}

func (nopReporter) Ready(string, int, int64) {}
func (nopReporter) Changes(snapshot.ChangeSet) {}
func (nopReporter) RunStarted([]string, snapshot.ChangeSet) {}
func (nopReporter) RunFinished(runner.Result) {}
func (nopReporter) Stats(scan.Stats) {}
func (nopReporter) Diff(string) {}
func (nopReporter) Warn(string) {}
