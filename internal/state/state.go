// Package state persists hot-file statistics between daemon sessions.
package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/tdaemon/internal/filelock"
)

// CurrentVersion is the on-disk format version.
const CurrentVersion = 1

// lockTimeout bounds how long Load and Save wait for another daemon.
const lockTimeout = 2 * time.Second

// State is the persisted form of the hot list.
type State struct {
	Version   int            `yaml:"version"`
	UpdatedAt time.Time      `yaml:"updatedAt,omitempty"`
	Hot       map[string]int `yaml:"hot,omitempty"`
}

// Store reads and writes one state file.
type Store struct {
	path   string
	perm   os.FileMode
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPermissions overrides the default file permissions (0644).
func WithPermissions(perm os.FileMode) Option {
	return func(s *Store) {
		s.perm = perm
	}
}

// WithLogger sets a logger for the Store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store for path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		perm:   0o644,
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Path returns the state file path.
func (s *Store) Path() string { return s.path }

// Load reads the state file. A missing file yields an empty state.
func (s *Store) Load(ctx context.Context) (*State, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.release(unlock)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &State{Version: CurrentVersion, Hot: map[string]int{}}, nil
		}

		return nil, fmt.Errorf("reading state %s: %w", s.path, err)
	}

	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing state %s: %w", s.path, err)
	}

	if st.Version > CurrentVersion {
		return nil, fmt.Errorf("state %s has unsupported version %d", s.path, st.Version)
	}

	if st.Hot == nil {
		st.Hot = map[string]int{}
	}

	st.Version = CurrentVersion

	return &st, nil
}

// Save writes st through a temporary file and a rename.
func (s *Store) Save(ctx context.Context, st *State) error {
	out := State{Version: CurrentVersion, UpdatedAt: s.now().UTC()}
	if st != nil {
		out.Hot = st.Hot
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer s.release(unlock)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // already renamed on success

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}

	if err := os.Chmod(tmpName, s.perm); err != nil {
		return fmt.Errorf("setting state permissions: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing state %s: %w", s.path, err)
	}

	s.logger.Debug("saved state", slog.String("path", s.path), slog.Int("hot", len(out.Hot)))

	return nil
}

func (s *Store) lock(ctx context.Context) (filelock.Unlock, error) {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	unlock, err := filelock.Lock(ctx, s.path+".lock")
	if err != nil {
		return nil, fmt.Errorf("locking state: %w", err)
	}

	return unlock, nil
}

func (s *Store) release(unlock filelock.Unlock) {
	if err := unlock(); err != nil {
		s.logger.Warn("releasing state lock", slog.String("error", err.Error()))
	}
}
