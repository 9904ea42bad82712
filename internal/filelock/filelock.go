// Package filelock provides advisory locks for the daemon's state file.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

const lockFileMode = 0o600

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("lock held by another process")

// DefaultRetry is the polling interval used by Lock.
const DefaultRetry = 25 * time.Millisecond

// Unlock releases a lock.
type Unlock func() error

// TryLock acquires an exclusive advisory lock on path without blocking,
// creating the lock file if needed. It returns ErrLocked when the lock is
// already held.
func TryLock(path string) (Unlock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFileMode) //nolint:gosec // lock path derived from the state file
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := tryLockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	return func() error {
		unlockErr := unlockFile(f)
		closeErr := f.Close()

		if unlockErr != nil {
			return unlockErr
		}

		return closeErr
	}, nil
}

// Lock polls TryLock until the lock is acquired or ctx ends.
func Lock(ctx context.Context, path string) (Unlock, error) {
	ticker := time.NewTicker(DefaultRetry)
	defer ticker.Stop()

	for {
		unlock, err := TryLock(path)
		if err == nil {
			return unlock, nil
		}

		if !errors.Is(err, ErrLocked) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
		case <-ticker.C:
		}
	}
}
