package ignore

import (
	gitignore "github.com/sabhiram/go-gitignore"
)

// GitignoreMatcher applies git's own ignore rules (anchoring, negation,
// directory patterns) to the pattern list.
type GitignoreMatcher struct {
	gi *gitignore.GitIgnore
}

// NewGitignoreMatcher compiles patterns with gitignore semantics.
func NewGitignoreMatcher(patterns []string) *GitignoreMatcher {
	return &GitignoreMatcher{gi: gitignore.CompileIgnoreLines(patterns...)}
}

// Match implements Matcher.
func (m *GitignoreMatcher) Match(relPath string, isDir bool) bool {
	if relPath == "" || relPath == "." {
		return false
	}

	if m.gi.MatchesPath(relPath) {
		return true
	}

	return isDir && m.gi.MatchesPath(relPath+"/")
}
