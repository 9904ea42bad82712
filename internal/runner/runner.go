// Package runner executes the user's test command.
//
// Commands run directly from their argv, never through a shell, so shell
// metacharacters in arguments reach the child verbatim.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Result describes one finished command.
type Result struct {
	// ExitCode is the child's exit status, or -1 when it could not start or
	// was terminated by a signal.
	ExitCode int

	// Err is set when the command could not start or did not exit normally.
	// A plain non-zero exit is not an error.
	Err error

	Duration time.Duration

	// Output holds combined stdout and stderr when capture is enabled.
	Output []byte
}

// Success reports whether the command ran and exited with status 0.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Runner runs commands with fixed stream and directory settings.
type Runner struct {
	dir     string
	stdout  io.Writer
	stderr  io.Writer
	stdin   io.Reader
	capture bool
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithDir sets the working directory. Empty means the daemon's own.
func WithDir(dir string) Option {
	return func(r *Runner) {
		r.dir = dir
	}
}

// WithStdout overrides where the child's stdout goes (default os.Stdout).
func WithStdout(w io.Writer) Option {
	return func(r *Runner) {
		r.stdout = w
	}
}

// WithStderr overrides where the child's stderr goes (default os.Stderr).
func WithStderr(w io.Writer) Option {
	return func(r *Runner) {
		r.stderr = w
	}
}

// WithStdin connects the child's stdin. By default it has none.
func WithStdin(rd io.Reader) Option {
	return func(r *Runner) {
		r.stdin = rd
	}
}

// WithCapture also records combined output into Result.Output.
func WithCapture(enabled bool) Option {
	return func(r *Runner) {
		r.capture = enabled
	}
}

// WithLogger sets a logger for the Runner.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Dir returns the configured working directory.
func (r *Runner) Dir() string { return r.dir }

// Run executes command with args and waits for it to exit.
//
// Cancelling ctx does not kill the child: an in-flight run always completes
// so the loop stops between cycles. ctx only carries values.
func (r *Runner) Run(ctx context.Context, command string, args ...string) Result {
	cmd := exec.CommandContext(context.WithoutCancel(ctx), command, args...) //nolint:gosec
	cmd.Dir = r.dir
	cmd.Stdin = r.stdin

	var buf *lockedBuffer

	if r.capture {
		buf = &lockedBuffer{}
		cmd.Stdout = io.MultiWriter(r.stdout, buf)
		cmd.Stderr = io.MultiWriter(r.stderr, buf)
	} else {
		cmd.Stdout = r.stdout
		cmd.Stderr = r.stderr
	}

	r.logger.Debug("running command",
		slog.String("command", command),
		slog.Any("args", args),
		slog.String("dir", r.dir),
	)

	start := time.Now()
	err := cmd.Run()
	res := Result{Duration: time.Since(start)}

	if buf != nil {
		res.Output = buf.Bytes()
	}

	var exitErr *exec.ExitError

	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			res.Err = fmt.Errorf("command %s: %w", command, err)
		}
	default:
		res.ExitCode = -1
		res.Err = fmt.Errorf("starting %s: %w", command, err)
	}

	r.logger.Debug("command finished",
		slog.String("command", command),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration),
	)

	return res
}

// lockedBuffer serialises writes from the stdout and stderr copiers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return bytes.Clone(b.buf.Bytes())
}
