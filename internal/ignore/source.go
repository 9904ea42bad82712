package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"unicode"

	"github.com/spf13/afero"
)

// StateFileName is the daemon's own state file. It lives in the watch root
// and is always ignored so that persisting it never triggers a run.
const StateFileName = ".tdaemon.state"

// DefaultPatterns are always excluded: VCS metadata directories, compiled
// Python files, editor swap files, and the daemon's state file.
var DefaultPatterns = []string{
	".bzr", ".git", ".hg", ".darcs", ".svn",
	"*.pyc", "*.pyo", "*.swp",
	StateFileName,
}

// ErrEmptyPattern is returned by SplitList for an empty list entry.
var ErrEmptyPattern = errors.New("empty ignore pattern")

// SplitList parses a comma-separated --ignore value. An empty value yields
// no patterns. Empty entries (",," or a trailing comma) and entries holding
// control characters are rejected.
func SplitList(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	patterns := make([]string, 0, len(parts))

	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("entry %d of %q: %w", i+1, s, ErrEmptyPattern)
		}

		if strings.IndexFunc(p, unicode.IsControl) >= 0 {
			return nil, fmt.Errorf("entry %d of %q: control character in ignore pattern", i+1, s)
		}

		patterns = append(patterns, p)
	}

	return patterns, nil
}

// ParseLines reads gitignore-style lines: one pattern per line, blank lines
// and "#" comments skipped.
func ParseLines(r io.Reader) ([]string, error) {
	var patterns []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		patterns = append(patterns, line)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore lines: %w", err)
	}

	return patterns, nil
}

// ReadFile parses the ignore file at path. A missing file is not an error.
func ReadFile(fsys afero.Fs, path string) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("opening ignore file %s: %w", path, err)
	}
	defer f.Close()

	patterns, err := ParseLines(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return patterns, nil
}
