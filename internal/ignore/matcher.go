package ignore

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher reports whether a path relative to the watch root is excluded.
// Paths use forward slashes. isDir is true when the path names a directory.
type Matcher interface {
	Match(relPath string, isDir bool) bool
}

// Syntax selects how pattern strings are interpreted.
type Syntax string

// Supported pattern syntaxes.
const (
	SyntaxGlob      Syntax = "glob"
	SyntaxGitignore Syntax = "gitignore"
)

// New compiles patterns with the given syntax.
func New(syntax Syntax, patterns []string) Matcher {
	if syntax == SyntaxGitignore {
		return NewGitignoreMatcher(patterns)
	}

	return NewGlobMatcher(patterns)
}

// rule is one compiled glob pattern.
type rule struct {
	glob     string
	negate   bool
	anchored bool
	dirOnly  bool
	// literal is set for patterns doublestar rejects; they are compared as
	// plain strings instead of failing the scan.
	literal bool
}

// GlobMatcher matches shell-glob patterns against whole paths and single
// path segments. A path is excluded when any positive rule matches and no
// negated rule does. Rule order does not matter.
type GlobMatcher struct {
	include []rule
	exclude []rule
}

// NewGlobMatcher compiles patterns. Blank patterns are dropped.
//
// A leading "!" negates a pattern, a leading "/" anchors it to the full
// relative path, and a trailing "/" restricts it to directories.
func NewGlobMatcher(patterns []string) *GlobMatcher {
	m := &GlobMatcher{}

	for _, p := range patterns {
		r, ok := compileRule(p)
		if !ok {
			continue
		}

		if r.negate {
			m.include = append(m.include, r)
		} else {
			m.exclude = append(m.exclude, r)
		}
	}

	return m
}

func compileRule(p string) (rule, bool) {
	p = strings.TrimSpace(p)

	var r rule

	if strings.HasPrefix(p, "!") {
		r.negate = true
		p = p[1:]
	}

	if strings.HasPrefix(p, "/") {
		r.anchored = true
		p = strings.TrimLeft(p, "/")
	}

	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}

	if p == "" {
		return rule{}, false
	}

	r.glob = p
	r.literal = !doublestar.ValidatePattern(p)

	return r, true
}

// Match implements Matcher.
func (m *GlobMatcher) Match(relPath string, isDir bool) bool {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" || relPath == "." {
		return false
	}

	if !matchAny(m.exclude, relPath, isDir) {
		return false
	}

	return !matchAny(m.include, relPath, isDir)
}

// Patterns returns the number of compiled rules.
func (m *GlobMatcher) Patterns() int {
	return len(m.include) + len(m.exclude)
}

func matchAny(rules []rule, relPath string, isDir bool) bool {
	if len(rules) == 0 {
		return false
	}

	segments := strings.Split(relPath, "/")

	for _, r := range rules {
		if r.matches(relPath, segments, isDir) {
			return true
		}
	}

	return false
}

func (r rule) matches(relPath string, segments []string, isDir bool) bool {
	if !r.dirOnly || isDir {
		if r.match(relPath) {
			return true
		}
	}

	if r.anchored {
		return false
	}

	for i, seg := range segments {
		// Every segment but the last names a directory.
		last := i == len(segments)-1
		if r.dirOnly && last && !isDir {
			continue
		}

		if r.match(seg) {
			return true
		}
	}

	return false
}

func (r rule) match(name string) bool {
	if r.literal {
		return r.glob == name
	}

	ok, err := doublestar.Match(r.glob, name)

	return err == nil && ok
}
