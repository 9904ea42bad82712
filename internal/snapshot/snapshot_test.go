package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(path string, size, mtime int64) FileRecord {
	return FileRecord{Path: path, Fingerprint: Fingerprint{Size: size, ModTime: mtime}, Exists: true}
}

func hashed(path string, size, mtime int64, hash string) FileRecord {
	r := rec(path, size, mtime)
	r.Fingerprint.Hash = hash

	return r
}

// ---------------------------------------------------------------------------
// Fingerprint
// ---------------------------------------------------------------------------

func TestFingerprint_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Fingerprint
		want bool
	}{
		{"identical stat", Fingerprint{Size: 1, ModTime: 10}, Fingerprint{Size: 1, ModTime: 10}, true},
		{"mtime differs", Fingerprint{Size: 1, ModTime: 10}, Fingerprint{Size: 1, ModTime: 11}, false},
		{"size differs", Fingerprint{Size: 1, ModTime: 10}, Fingerprint{Size: 2, ModTime: 10}, false},
		{"touch with same hash", Fingerprint{Size: 1, ModTime: 10, Hash: "aa"}, Fingerprint{Size: 1, ModTime: 99, Hash: "aa"}, true},
		{"same size edit", Fingerprint{Size: 1, ModTime: 10, Hash: "aa"}, Fingerprint{Size: 1, ModTime: 10, Hash: "bb"}, false},
		{"one side unhashed", Fingerprint{Size: 1, ModTime: 10, Hash: "aa"}, Fingerprint{Size: 1, ModTime: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	taken := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New("/proj", taken, []FileRecord{
		rec("b.txt", 10, 1),
		rec("a.txt", 5, 1),
		{Path: "gone.txt", Exists: false},
		rec("b.txt", 20, 2),
	})

	assert.Equal(t, "/proj", s.Root())
	assert.Equal(t, taken, s.TakenAt())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(25), s.TotalSize())
	assert.Equal(t, []string{"a.txt", "b.txt"}, s.Paths())

	r, ok := s.Get("b.txt")
	require.True(t, ok)
	assert.Equal(t, int64(20), r.Fingerprint.Size)

	_, ok = s.Get("gone.txt")
	assert.False(t, ok)
}

func TestNilSnapshot(t *testing.T) {
	var s *Snapshot

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(0), s.TotalSize())
	assert.Empty(t, s.Paths())
	assert.Empty(t, s.Manifest())
}

// ---------------------------------------------------------------------------
// Diff
// ---------------------------------------------------------------------------

func TestDiff_Unchanged(t *testing.T) {
	records := []FileRecord{rec("a.txt", 1, 1), rec("dir/b.txt", 2, 2)}
	s1 := New("/p", time.Time{}, records)
	s2 := New("/p", time.Time{}, records)

	cs := Diff(s1, s2)
	assert.False(t, cs.IsSignificant())
	assert.Equal(t, 0, cs.Len())
	assert.Equal(t, "no changes", cs.Summary())
}

func TestDiff_AddedRemovedModified(t *testing.T) {
	s1 := New("/p", time.Time{}, []FileRecord{
		rec("keep.txt", 1, 1),
		rec("edit.txt", 1, 1),
		rec("drop.txt", 1, 1),
	})
	s2 := New("/p", time.Time{}, []FileRecord{
		rec("keep.txt", 1, 1),
		rec("edit.txt", 2, 5),
		rec("new.txt", 1, 1),
	})

	cs := Diff(s1, s2)
	assert.Equal(t, []string{"new.txt"}, cs.Added)
	assert.Equal(t, []string{"drop.txt"}, cs.Removed)
	assert.Equal(t, []string{"edit.txt"}, cs.Modified)
	assert.True(t, cs.IsSignificant())
	assert.Equal(t, []string{"edit.txt", "new.txt"}, cs.Touched())
	assert.Equal(t, "+1 added, ~1 modified, -1 removed", cs.Summary())
}

func TestDiff_NilPrevious(t *testing.T) {
	s := New("/p", time.Time{}, []FileRecord{rec("b", 1, 1), rec("a", 1, 1)})

	cs := Diff(nil, s)
	assert.Equal(t, []string{"a", "b"}, cs.Added)
	assert.Empty(t, cs.Removed)
	assert.Empty(t, cs.Modified)
}

func TestDiff_HashIgnoresTouch(t *testing.T) {
	s1 := New("/p", time.Time{}, []FileRecord{hashed("a.txt", 1, 100, "h1")})
	s2 := New("/p", time.Time{}, []FileRecord{hashed("a.txt", 1, 200, "h1")})

	assert.False(t, Diff(s1, s2).IsSignificant())
}

// Every path of S1 ∪ S2 whose state differs lands in exactly one set, and
// unchanged paths land in none.
func TestDiff_PartitionsUnion(t *testing.T) {
	s1 := New("/p", time.Time{}, []FileRecord{
		rec("a", 1, 1), rec("b", 1, 1), rec("c", 1, 1), rec("d", 4, 4),
	})
	s2 := New("/p", time.Time{}, []FileRecord{
		rec("b", 1, 1), rec("c", 2, 1), rec("d", 4, 5), rec("e", 1, 1), rec("f", 1, 1),
	})

	cs := Diff(s1, s2)

	seen := map[string]int{}
	for _, set := range [][]string{cs.Added, cs.Removed, cs.Modified} {
		for _, p := range set {
			seen[p]++
		}
	}

	union := map[string]bool{}
	for _, p := range append(s1.Paths(), s2.Paths()...) {
		union[p] = true
	}

	for p := range union {
		r1, in1 := s1.Get(p)
		r2, in2 := s2.Get(p)
		unchanged := in1 && in2 && r1.Fingerprint.Equal(r2.Fingerprint)

		if unchanged {
			assert.Zero(t, seen[p], "unchanged path %s reported", p)
		} else {
			assert.Equal(t, 1, seen[p], "path %s must appear exactly once", p)
		}
	}

	assert.Len(t, seen, 5)
}

// ---------------------------------------------------------------------------
// Manifest
// ---------------------------------------------------------------------------

func TestManifestDiff(t *testing.T) {
	s1 := New("/p", time.Time{}, []FileRecord{hashed("a.txt", 1, 1, "0123456789abcdef"), rec("b.txt", 2, 0)})
	s2 := New("/p", time.Time{}, []FileRecord{hashed("a.txt", 3, 1, "fedcba9876543210"), rec("b.txt", 2, 0)})

	out, err := ManifestDiff(s1, s2, 1)
	require.NoError(t, err)
	assert.Contains(t, out, "--- previous")
	assert.Contains(t, out, "+++ current")
	assert.Contains(t, out, "-a.txt\t1\t0123456789ab")
	assert.Contains(t, out, "+a.txt\t3\tfedcba987654")
	assert.Contains(t, out, " b.txt\t2\t1970-01-01T00:00:00Z")
}

func TestManifestDiff_Identical(t *testing.T) {
	s := New("/p", time.Time{}, []FileRecord{rec("a.txt", 1, 1)})

	out, err := ManifestDiff(s, s, 3)
	require.NoError(t, err)
	assert.Empty(t, out)
}
