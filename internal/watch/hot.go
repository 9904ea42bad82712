package watch

import (
	"maps"
	"path"
	"path/filepath"
	"sort"
	"sync"
)

// HotList counts how often paths changed and keeps the most frequent ones.
type HotList struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

// NewHotList creates a list holding at most limit paths, seeded with counts
// from a previous session. A limit of zero or less keeps nothing. Seed
// entries that are not clean slash-separated paths inside the root are
// dropped.
func NewHotList(limit int, seed map[string]int) *HotList {
	h := &HotList{limit: limit, counts: make(map[string]int, len(seed))}

	for p, n := range seed {
		if n > 0 && isRelativePath(p) {
			h.counts[p] = n
		}
	}

	h.trim()

	return h
}

// Record bumps the count of every path and drops the least frequent ones
// beyond the limit.
func (h *HotList) Record(paths []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range paths {
		h.counts[p]++
	}

	h.trim()
}

// Forget removes paths, typically because they no longer exist.
func (h *HotList) Forget(paths []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range paths {
		delete(h.counts, p)
	}
}

// Len returns the number of tracked paths.
func (h *HotList) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.counts)
}

// Paths returns the tracked paths, most frequent first.
func (h *HotList) Paths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.ordered()
}

// Counts returns a copy of the tracked counts.
func (h *HotList) Counts() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return maps.Clone(h.counts)
}

func (h *HotList) ordered() []string {
	out := make([]string, 0, len(h.counts))
	for p := range h.counts {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		ci, cj := h.counts[out[i]], h.counts[out[j]]
		if ci != cj {
			return ci > cj
		}

		return out[i] < out[j]
	})

	return out
}

func (h *HotList) trim() {
	if len(h.counts) <= max(h.limit, 0) {
		return
	}

	for _, p := range h.ordered()[max(h.limit, 0):] {
		delete(h.counts, p)
	}
}

// isRelativePath reports whether p is in the form a snapshot uses for paths
// below the root.
func isRelativePath(p string) bool {
	return p != "" && path.Clean(p) == p && filepath.IsLocal(filepath.FromSlash(p))
}
