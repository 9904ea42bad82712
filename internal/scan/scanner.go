// Package scan walks the watch root and produces snapshots.
//
// The scanner never descends into a directory the ignore matcher excludes,
// skips entries that vanish mid-walk, and treats unreadable subdirectories as
// a logged, counted condition rather than a failure. Only an unreadable watch
// root or a cancelled context fails a scan.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/hupe1980/tdaemon/internal/ignore"
	"github.com/hupe1980/tdaemon/internal/snapshot"
)

// Mode selects how file content is fingerprinted.
type Mode string

// Fingerprint modes.
const (
	// ModeStat records size and modification time.
	ModeStat Mode = "stat"
	// ModeHash additionally records a SHA-256 of the content.
	ModeHash Mode = "hash"
)

// Options configures a Scanner.
type Options struct {
	// Fs is the filesystem to walk. Defaults to the OS filesystem.
	Fs afero.Fs

	// Matcher excludes paths. Nil excludes nothing.
	Matcher ignore.Matcher

	// Mode is the fingerprint mode. Defaults to ModeStat.
	Mode Mode

	// Workers bounds concurrent hashing in ModeHash.
	Workers int

	// Logger receives skipped-entry diagnostics.
	Logger *slog.Logger

	// Now returns the snapshot capture time. Defaults to time.Now.
	Now func() time.Time
}

// Stats describes one scan.
type Stats struct {
	DirsChecked  int
	DirsIgnored  int
	FilesChecked int
	FilesIgnored int
	FilesHashed  int
	Errors       int
	Quick        bool
	Duration     time.Duration
}

// String renders the stats as a single line.
func (s Stats) String() string {
	kind := "full"
	if s.Quick {
		kind = "quick"
	}

	return fmt.Sprintf("%s scan: dirs_checked=%d dirs_ignored=%d files_checked=%d files_ignored=%d files_hashed=%d errors=%d time=%s",
		kind, s.DirsChecked, s.DirsIgnored, s.FilesChecked, s.FilesIgnored, s.FilesHashed, s.Errors, s.Duration.Round(time.Microsecond))
}

// Scanner produces snapshots of one watch root.
type Scanner struct {
	root    string
	fs      afero.Fs
	matcher ignore.Matcher
	mode    Mode
	workers int
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a scanner for root, which should be absolute.
func New(root string, opts Options) *Scanner {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	if opts.Matcher == nil {
		opts.Matcher = ignore.NewGlobMatcher(nil)
	}

	if opts.Mode == "" {
		opts.Mode = ModeStat
	}

	if opts.Workers <= 0 {
		opts.Workers = min(max(runtime.NumCPU(), 2), 16)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scanner{
		root:    filepath.Clean(root),
		fs:      opts.Fs,
		matcher: opts.Matcher,
		mode:    opts.Mode,
		workers: opts.Workers,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// Root returns the watch root.
func (s *Scanner) Root() string { return s.root }

// Scan walks the whole tree. prev may be nil; in hash mode its hashes are
// reused for files whose size and modification time did not change.
func (s *Scanner) Scan(ctx context.Context, prev *snapshot.Snapshot) (*snapshot.Snapshot, Stats, error) {
	start := time.Now()

	info, err := s.fs.Stat(s.root)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("scanning %s: %w", s.root, err)
	}

	if !info.IsDir() {
		return nil, Stats{}, fmt.Errorf("scanning %s: not a directory", s.root)
	}

	w := &walker{Scanner: s}
	if err := w.walkDir(ctx, ""); err != nil {
		return nil, w.stats, err
	}

	records := w.records
	if s.mode == ModeHash {
		records, err = s.hashAll(ctx, records, prev, &w.stats)
		if err != nil {
			return nil, w.stats, err
		}
	}

	w.stats.Duration = time.Since(start)

	return snapshot.New(s.root, s.now(), records), w.stats, nil
}

// Refresh re-examines only paths and carries every other record over from
// prev. Paths that no longer exist, or are no longer regular files, drop out.
// Only paths already in prev are refreshed: new files and paths the matcher
// excludes are left to the next full scan.
func (s *Scanner) Refresh(ctx context.Context, prev *snapshot.Snapshot, paths []string) (*snapshot.Snapshot, Stats, error) {
	start := time.Now()
	st := Stats{Quick: true}

	current := make(map[string]snapshot.FileRecord, prev.Len())
	for _, r := range prev.Records() {
		current[r.Path] = r
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, st, err
		}

		old, tracked := current[p]
		if !tracked {
			continue
		}

		st.FilesChecked++

		if s.matcher.Match(p, false) {
			st.FilesIgnored++
			continue
		}

		info, err := s.fs.Stat(s.abs(p))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				st.Errors++
				s.logger.Warn("cannot stat hot path", slog.String("path", p), slog.String("error", err.Error()))

				continue
			}

			delete(current, p)

			continue
		}

		if !info.Mode().IsRegular() {
			delete(current, p)
			continue
		}

		r := newRecord(p, info)

		if s.mode == ModeHash {
			if old.Fingerprint.Hash != "" && old.Fingerprint.SameStat(r.Fingerprint) {
				r.Fingerprint.Hash = old.Fingerprint.Hash
			} else {
				h, hashErr := hashFile(s.fs, s.abs(p))
				if hashErr != nil {
					delete(current, p)
					continue
				}

				r.Fingerprint.Hash = h
				st.FilesHashed++
			}
		}

		current[p] = r
	}

	records := make([]snapshot.FileRecord, 0, len(current))
	for _, r := range current {
		records = append(records, r)
	}

	st.Duration = time.Since(start)

	return snapshot.New(s.root, s.now(), records), st, nil
}

func (s *Scanner) abs(rel string) string {
	if rel == "" {
		return s.root
	}

	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// hashAll fills in content hashes on a bounded pool. Files that vanish or
// cannot be read are dropped from the result.
func (s *Scanner) hashAll(ctx context.Context, records []snapshot.FileRecord, prev *snapshot.Snapshot, st *Stats) ([]snapshot.FileRecord, error) {
	keep := make([]bool, len(records))

	var hashed, failed atomic.Int64

	p := pool.New().WithMaxGoroutines(s.workers)

	for i := range records {
		r := &records[i]

		if old, ok := prev.Get(r.Path); ok && old.Fingerprint.Hash != "" && old.Fingerprint.SameStat(r.Fingerprint) {
			r.Fingerprint.Hash = old.Fingerprint.Hash
			keep[i] = true

			continue
		}

		p.Go(func() {
			if ctx.Err() != nil {
				return
			}

			h, err := hashFile(s.fs, s.abs(r.Path))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					s.logger.Debug("file vanished during scan", slog.String("path", r.Path))
				} else {
					failed.Add(1)
					s.logger.Warn("cannot hash file", slog.String("path", r.Path), slog.String("error", err.Error()))
				}

				return
			}

			r.Fingerprint.Hash = h
			keep[i] = true

			hashed.Add(1)
		})
	}

	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st.FilesHashed += int(hashed.Load())
	st.Errors += int(failed.Load())

	out := records[:0]

	for i, r := range records {
		if keep[i] {
			out = append(out, r)
		}
	}

	return out, nil
}

// walker carries per-scan state through the recursive walk.
type walker struct {
	*Scanner
	records []snapshot.FileRecord
	stats   Stats
}

func (w *walker) walkDir(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.stats.DirsChecked++

	entries, err := afero.ReadDir(w.fs, w.abs(rel))
	if err != nil {
		if rel == "" {
			return fmt.Errorf("reading watch root %s: %w", w.root, err)
		}

		w.stats.Errors++
		w.logger.Warn("skipping unreadable directory", slog.String("path", rel), slog.String("error", err.Error()))

		return nil
	}

	for _, info := range entries {
		child := path.Join(rel, info.Name())

		if info.Mode()&os.ModeSymlink != 0 {
			target, statErr := w.fs.Stat(w.abs(child))
			if statErr != nil {
				// Dangling link, or the entry vanished after listing.
				continue
			}

			if target.IsDir() {
				continue
			}

			info = target
		}

		switch {
		case info.IsDir():
			if w.matcher.Match(child, true) {
				w.stats.DirsIgnored++
				continue
			}

			if err := w.walkDir(ctx, child); err != nil {
				return err
			}

		case info.Mode().IsRegular():
			w.stats.FilesChecked++

			if w.matcher.Match(child, false) {
				w.stats.FilesIgnored++
				continue
			}

			w.records = append(w.records, newRecord(child, info))
		}
	}

	return nil
}

func newRecord(rel string, info os.FileInfo) snapshot.FileRecord {
	return snapshot.FileRecord{
		Path: rel,
		Fingerprint: snapshot.Fingerprint{
			Size:    info.Size(),
			ModTime: info.ModTime().UnixNano(),
		},
		Exists: true,
	}
}

// hashFile computes the SHA-256 of a file's content.
func hashFile(fsys afero.Fs, name string) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
