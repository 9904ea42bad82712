// Package ignore decides which paths under the watch root are excluded from
// observation. Patterns come from three sources: the built-in VCS defaults,
// the --ignore flag, and the root's .gitignore file. They are compiled once
// into a [Matcher] that the tree scanner consults for every entry.
//
// The default [GlobMatcher] applies shell-glob patterns to the full relative
// path and to every path segment, so "docs" excludes any directory named
// docs and "*.png" excludes every PNG in the tree.
package ignore
