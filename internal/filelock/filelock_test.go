package filelock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")

	unlock, err := TryLock(path)
	require.NoError(t, err)

	_, err = TryLock(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock())

	unlock, err = TryLock(path)
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestLock_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")

	unlock, err := TryLock(path)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	second, err := Lock(ctx, path)
	require.NoError(t, err)
	require.NoError(t, second())
}

func TestLock_ContextTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")

	unlock, err := TryLock(path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = unlock() })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_, err = Lock(ctx, path)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTryLock_MissingDirectory(t *testing.T) {
	_, err := TryLock(filepath.Join(t.TempDir(), "nope", "state.lock"))
	assert.Error(t, err)
}
