package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/tdaemon/internal/ignore"
)

// DefaultNotifyDebounce is the quiet period before a burst of filesystem
// events becomes one wake-up.
const DefaultNotifyDebounce = 100 * time.Millisecond

// Notifier turns filesystem events under a root into wake-ups for a Loop.
// At most one wake-up is pending at a time.
type Notifier struct {
	root      string
	matcher   ignore.Matcher
	logger    *slog.Logger
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	wake      chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewNotifier watches every non-excluded directory below root.
func NewNotifier(root string, matcher ignore.Matcher, debounce time.Duration, logger *slog.Logger) (*Notifier, error) {
	if matcher == nil {
		matcher = ignore.NewGlobMatcher(nil)
	}

	if logger == nil {
		logger = slog.Default()
	}

	if debounce <= 0 {
		debounce = DefaultNotifyDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	n := &Notifier{
		root:    filepath.Clean(root),
		matcher: matcher,
		logger:  logger,
		watcher: w,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	n.debouncer = NewDebouncer(debounce, n.signal)

	if err := n.addRecursive(n.root); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", n.root, err)
	}

	return n, nil
}

// C delivers wake-ups.
func (n *Notifier) C() <-chan struct{} { return n.wake }

// Start consumes events in the background until ctx ends or Close is called.
func (n *Notifier) Start(ctx context.Context) {
	go n.loop(ctx)
}

// Close stops watching. It is safe to call more than once.
func (n *Notifier) Close() error {
	var err error

	n.closeOnce.Do(func() {
		close(n.done)
		n.debouncer.Stop()
		err = n.watcher.Close()
	})

	return err
}

func (n *Notifier) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return

		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}

			n.handle(event)

		case watchErr, ok := <-n.watcher.Errors:
			if !ok {
				return
			}

			n.logger.Warn("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func (n *Notifier) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(n.root, event.Name)
	if err != nil || rel == "." {
		return
	}

	rel = filepath.ToSlash(rel)

	isDir := false
	if event.Has(fsnotify.Create) {
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			isDir = true
		}
	}

	if n.matcher.Match(rel, isDir) {
		return
	}

	if isDir {
		if err := n.addRecursive(event.Name); err != nil {
			n.logger.Debug("cannot watch new directory", slog.String("path", rel), slog.String("error", err.Error()))
		}
	}

	n.debouncer.Trigger(rel)
}

// signal performs a non-blocking send so a pending wake-up absorbs new ones.
func (n *Notifier) signal(paths []string) {
	n.logger.Debug("filesystem activity", slog.Int("paths", len(paths)))

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// addRecursive adds dir and every non-excluded directory below it.
// Unreadable subdirectories are skipped; only a failure on dir itself is
// returned.
func (n *Notifier) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if path != n.root {
			rel, relErr := filepath.Rel(n.root, path)
			if relErr == nil && n.matcher.Match(filepath.ToSlash(rel), true) {
				return filepath.SkipDir
			}
		}

		if addErr := n.watcher.Add(path); addErr != nil {
			if path == dir {
				return addErr
			}

			if errors.Is(addErr, fs.ErrPermission) {
				return filepath.SkipDir
			}

			n.logger.Debug("cannot watch directory", slog.String("path", path), slog.String("error", addErr.Error()))
		}

		return nil
	})
}
