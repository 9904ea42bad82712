package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tdaemon/internal/logging"
)

// The test binary doubles as the child process. With the marker variable
// set, TestHelperProcess acts on its arguments and exits.
const helperEnv = "TDAEMON_WANT_HELPER_PROCESS"

func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}

	switch args[0] {
	case "echo":
		fmt.Fprint(os.Stdout, args[1])
		fmt.Fprint(os.Stderr, args[2])
		os.Exit(0)
	case "exit":
		code, _ := strconv.Atoi(args[1])
		os.Exit(code)
	case "args":
		for _, a := range args[1:] {
			fmt.Fprintln(os.Stdout, a)
		}
		os.Exit(0)
	case "pwd":
		wd, _ := os.Getwd()
		fmt.Fprint(os.Stdout, wd)
		os.Exit(0)
	}

	os.Exit(3)
}

func helper(t *testing.T, r *Runner, args ...string) Result {
	t.Helper()
	t.Setenv(helperEnv, "1")

	argv := append([]string{"-test.run=TestHelperProcess", "--"}, args...)

	return r.Run(context.Background(), os.Args[0], argv...)
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_ForwardsOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer

	r := New(WithStdout(&stdout), WithStderr(&stderr), WithLogger(logging.Discard()))

	res := helper(t, r, "echo", "out", "err")
	require.NoError(t, res.Err)
	assert.True(t, res.Success())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out", stdout.String())
	assert.Equal(t, "err", stderr.String())
	assert.Nil(t, res.Output)
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	r := New(WithStdout(&bytes.Buffer{}), WithStderr(&bytes.Buffer{}), WithLogger(logging.Discard()))

	res := helper(t, r, "exit", "7")
	assert.NoError(t, res.Err)
	assert.Equal(t, 7, res.ExitCode)
	assert.False(t, res.Success())
}

func TestRun_ArgumentsAreNotShellInterpreted(t *testing.T) {
	var stdout bytes.Buffer

	r := New(WithStdout(&stdout), WithStderr(&bytes.Buffer{}), WithLogger(logging.Discard()))

	res := helper(t, r, "args", "a && b", "$(id)", "x | y; z")
	require.True(t, res.Success())
	assert.Equal(t, "a && b\n$(id)\nx | y; z\n", stdout.String())
}

func TestRun_Capture(t *testing.T) {
	var stdout bytes.Buffer

	r := New(WithStdout(&stdout), WithStderr(&bytes.Buffer{}), WithCapture(true), WithLogger(logging.Discard()))

	res := helper(t, r, "echo", "hello", "")
	require.True(t, res.Success())
	assert.Equal(t, "hello", stdout.String())
	assert.Equal(t, "hello", string(res.Output))
}

func TestRun_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()

	var stdout bytes.Buffer

	r := New(WithDir(dir), WithStdout(&stdout), WithStderr(&bytes.Buffer{}), WithLogger(logging.Discard()))
	assert.Equal(t, dir, r.Dir())

	res := helper(t, r, "pwd")
	require.True(t, res.Success())

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	got, err := filepath.EvalSymlinks(stdout.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRun_CommandNotFound(t *testing.T) {
	r := New(WithLogger(logging.Discard()))

	res := r.Run(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, res.Err)
	assert.Equal(t, -1, res.ExitCode)
	assert.False(t, res.Success())
	assert.Contains(t, res.Err.Error(), "starting")
}

func TestRun_CancelledContextStillRuns(t *testing.T) {
	var stdout bytes.Buffer

	r := New(WithStdout(&stdout), WithStderr(&bytes.Buffer{}), WithLogger(logging.Discard()))
	t.Setenv(helperEnv, "1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, os.Args[0], "-test.run=TestHelperProcess", "--", "echo", "done", "")
	require.NoError(t, res.Err)
	assert.Equal(t, "done", stdout.String())
}
