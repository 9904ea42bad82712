package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tdaemon/internal/filelock"
	"github.com/hupe1980/tdaemon/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	return NewStore(filepath.Join(t.TempDir(), ".tdaemon.state"),
		WithLogger(logging.Discard()),
		WithClock(func() time.Time { return now }),
	)
}

func TestLoad_MissingFile(t *testing.T) {
	s := newTestStore(t)

	st, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, st.Version)
	assert.Empty(t, st.Hot)
	assert.NotNil(t, st.Hot)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	err := s.Save(context.Background(), &State{Hot: map[string]int{"pkg/a_test.go": 4, "main.go": 1}})
	require.NoError(t, err)

	st, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"pkg/a_test.go": 4, "main.go": 1}, st.Hot)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), st.UpdatedAt)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "version: 1")
	assert.Contains(t, string(data), "pkg/a_test.go: 4")

	matches, err := filepath.Glob(s.Path() + ".tmp*")
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary file must not linger")
}

func TestLoad_Malformed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("hot: [unclosed"), 0o644))

	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "parsing state")
}

func TestLoad_FutureVersion(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("version: 99\n"), 0o644))

	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "unsupported version")
}

func TestSave_WaitsForLock(t *testing.T) {
	s := newTestStore(t)

	unlock, err := filelock.TryLock(s.Path() + ".lock")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Save(ctx, &State{})
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, unlock())
	require.NoError(t, s.Save(context.Background(), &State{}))
}
