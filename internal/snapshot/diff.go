package snapshot

import (
	"fmt"
	"sort"
)

// ChangeSet lists the paths that differ between two snapshots. Each slice is
// sorted and the three are pairwise disjoint.
type ChangeSet struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Diff compares prev with curr. A nil prev is an empty tree, so every path
// in curr counts as added.
func Diff(prev, curr *Snapshot) ChangeSet {
	var cs ChangeSet

	if curr != nil {
		for path, rec := range curr.files {
			old, ok := prev.Get(path)
			switch {
			case !ok:
				cs.Added = append(cs.Added, path)
			case !old.Fingerprint.Equal(rec.Fingerprint):
				cs.Modified = append(cs.Modified, path)
			}
		}
	}

	if prev != nil {
		for path := range prev.files {
			if _, ok := curr.Get(path); !ok {
				cs.Removed = append(cs.Removed, path)
			}
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Removed)
	sort.Strings(cs.Modified)

	return cs
}

// IsSignificant reports whether anything changed.
func (c ChangeSet) IsSignificant() bool {
	return c.Len() > 0
}

// Len returns the total number of changed paths.
func (c ChangeSet) Len() int {
	return len(c.Added) + len(c.Removed) + len(c.Modified)
}

// Touched returns the added and modified paths, the ones that still exist.
func (c ChangeSet) Touched() []string {
	out := make([]string, 0, len(c.Added)+len(c.Modified))
	out = append(out, c.Added...)
	out = append(out, c.Modified...)
	sort.Strings(out)

	return out
}

// Summary returns a short human-readable count line.
func (c ChangeSet) Summary() string {
	if !c.IsSignificant() {
		return "no changes"
	}

	return fmt.Sprintf("+%d added, ~%d modified, -%d removed",
		len(c.Added), len(c.Modified), len(c.Removed))
}
