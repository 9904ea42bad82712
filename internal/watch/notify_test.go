package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tdaemon/internal/ignore"
	"github.com/hupe1980/tdaemon/internal/logging"
)

func newTestNotifier(t *testing.T, dir string, patterns ...string) *Notifier {
	t.Helper()

	n, err := NewNotifier(dir, ignore.NewGlobMatcher(patterns), 20*time.Millisecond, logging.Discard())
	require.NoError(t, err)

	t.Cleanup(func() { _ = n.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	n.Start(ctx)

	return n
}

func waitWake(n *Notifier, d time.Duration) bool {
	select {
	case <-n.C():
		return true
	case <-time.After(d):
		return false
	}
}

func TestNotifier_WakesOnWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))

	n := newTestNotifier(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "a.go"), []byte("package pkg"), 0o644))
	assert.True(t, waitWake(n, 5*time.Second))
}

func TestNotifier_IgnoresExcludedPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vendor"), 0o755))

	n := newTestNotifier(t, dir, "vendor", "*.log")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor", "x.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "debug.log"), []byte("x"), 0o644))
	assert.False(t, waitWake(n, 300*time.Millisecond))
}

func TestNotifier_WatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	n := newTestNotifier(t, dir)

	sub := filepath.Join(dir, "new")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.True(t, waitWake(n, 5*time.Second))

	require.NoError(t, os.WriteFile(filepath.Join(sub, "a.go"), []byte("a"), 0o644))
	assert.True(t, waitWake(n, 5*time.Second))
}

func TestNotifier_PendingWakeIsCoalesced(t *testing.T) {
	dir := t.TempDir()
	n := newTestNotifier(t, dir)

	n.signal([]string{"a"})
	n.signal([]string{"b"})

	assert.True(t, waitWake(n, time.Second))
	assert.False(t, waitWake(n, 50*time.Millisecond))
}

func TestNotifier_MissingRoot(t *testing.T) {
	_, err := NewNotifier(filepath.Join(t.TempDir(), "missing"), nil, 0, logging.Discard())
	assert.Error(t, err)
}

func TestNotifier_CloseTwice(t *testing.T) {
	n, err := NewNotifier(t.TempDir(), nil, 0, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, n.Close())
	assert.NoError(t, n.Close())
}
