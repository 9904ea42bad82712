package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/hupe1980/tdaemon/internal/runner"
	"github.com/hupe1980/tdaemon/internal/scan"
	"github.com/hupe1980/tdaemon/internal/snapshot"
)

// Verbosity levels.
const (
	// VerbosityChanges lists changed paths.
	VerbosityChanges = 1
	// VerbosityStats adds scan statistics and manifest diffs.
	VerbosityStats = 2
)

const timeLayout = "15:04:05"

type styles struct {
	ready  lipgloss.Style
	dim    lipgloss.Style
	added  lipgloss.Style
	mod    lipgloss.Style
	del    lipgloss.Style
	ok     lipgloss.Style
	failed lipgloss.Style
	warn   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, color bool) styles {
	if !color {
		plain := r.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain, plain}
	}

	return styles{
		ready:  r.NewStyle().Foreground(lipgloss.Color("62")).Bold(true),
		dim:    r.NewStyle().Foreground(lipgloss.Color("241")),
		added:  r.NewStyle().Foreground(lipgloss.Color("34")),
		mod:    r.NewStyle().Foreground(lipgloss.Color("214")),
		del:    r.NewStyle().Foreground(lipgloss.Color("160")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("34")).Bold(true),
		failed: r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		warn:   r.NewStyle().Foreground(lipgloss.Color("226")),
	}
}

// Reporter writes status lines. It is safe for concurrent use.
type Reporter struct {
	mu        sync.Mutex
	out       io.Writer
	verbosity int
	now       func() time.Time
	st        styles
}

// ReporterOption configures a Reporter.
type ReporterOption func(*reporterConfig)

type reporterConfig struct {
	color     bool
	verbosity int
	now       func() time.Time
}

// WithColor enables or disables styling. NO_COLOR in the environment
// always disables it.
func WithColor(enabled bool) ReporterOption {
	return func(c *reporterConfig) {
		c.color = enabled
	}
}

// WithVerbosity sets how much detail is reported.
func WithVerbosity(level int) ReporterOption {
	return func(c *reporterConfig) {
		c.verbosity = level
	}
}

// WithClock overrides the time source for timestamps.
func WithClock(now func() time.Time) ReporterOption {
	return func(c *reporterConfig) {
		c.now = now
	}
}

// NewReporter creates a Reporter writing to w. If w is nil, os.Stderr is
// used.
func NewReporter(w io.Writer, opts ...ReporterOption) *Reporter {
	if w == nil {
		w = os.Stderr
	}

	cfg := reporterConfig{color: true, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		cfg.color = false
	}

	return &Reporter{
		out:       w,
		verbosity: cfg.verbosity,
		now:       cfg.now,
		st:        newStyles(lipgloss.NewRenderer(w), cfg.color),
	}
}

// Verbosity returns the configured verbosity.
func (r *Reporter) Verbosity() int { return r.verbosity }

// Ready announces that the baseline is in place.
func (r *Reporter) Ready(root string, files int, totalSize int64) {
	r.printf("%s %s\n",
		r.st.ready.Render("Ready to watch file changes..."),
		r.st.dim.Render(fmt.Sprintf("(%s, %d files, %s)", root, files, FormatBytes(totalSize))),
	)
}

// Changes lists changed paths at VerbosityChanges and above.
func (r *Reporter) Changes(cs snapshot.ChangeSet) {
	if r.verbosity < VerbosityChanges {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.list("changed:", r.st.mod, cs.Modified)
	r.list("new:", r.st.added, cs.Added)
	r.list("removed:", r.st.del, cs.Removed)
}

func (r *Reporter) list(label string, style lipgloss.Style, paths []string) {
	if len(paths) == 0 {
		return
	}

	fmt.Fprintf(r.out, "%s %s\n", style.Render(label), strings.Join(paths, ", "))
}

// RunStarted announces a command run triggered by cs.
func (r *Reporter) RunStarted(argv []string, cs snapshot.ChangeSet) {
	r.printf("%s %s %s\n",
		r.st.dim.Render("["+r.now().Format(timeLayout)+"]"),
		strings.Join(argv, " "),
		r.st.dim.Render("("+cs.Summary()+")"),
	)
}

// RunFinished reports the command's verdict.
func (r *Reporter) RunFinished(res runner.Result) {
	stamp := r.st.dim.Render("[" + r.now().Format(timeLayout) + "]")
	took := r.st.dim.Render(res.Duration.Round(time.Millisecond).String())

	switch {
	case res.Err != nil:
		r.printf("%s %s %v %s\n", stamp, r.st.failed.Render("ERROR"), res.Err, took)
	case res.ExitCode == 0:
		r.printf("%s %s %s\n", stamp, r.st.ok.Render("OK"), took)
	default:
		r.printf("%s %s %s\n", stamp, r.st.failed.Render(fmt.Sprintf("FAILED (exit %d)", res.ExitCode)), took)
	}
}

// Stats prints scan statistics at VerbosityStats.
func (r *Reporter) Stats(st scan.Stats) {
	if r.verbosity < VerbosityStats {
		return
	}

	r.printf("%s\n", r.st.dim.Render(st.String()))
}

// Diff prints a manifest diff at VerbosityStats.
func (r *Reporter) Diff(unified string) {
	if r.verbosity < VerbosityStats || unified == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for line := range strings.SplitSeq(unified, "\n") {
		style := r.st.dim

		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			style = r.st.added
		case strings.HasPrefix(line, "-"):
			style = r.st.del
		}

		fmt.Fprintln(r.out, style.Render(line))
	}
}

// Warn prints a highlighted warning.
func (r *Reporter) Warn(msg string) {
	r.printf("%s %s\n", r.st.warn.Render("warning:"), msg)
}

// Bye is the final line before exit.
func (r *Reporter) Bye() {
	r.printf("Bye\n")
}

func (r *Reporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, format, args...)
}

// FormatBytes renders n as a binary-SI quantity such as 25Mi.
func FormatBytes(n int64) string {
	return resource.NewQuantity(n, resource.BinarySI).String()
}
