// Package snapshot holds the point-in-time view of a watched tree and the
// comparison between two such views.
//
// A [Snapshot] is immutable once built. [Diff] compares two snapshots and
// yields a [ChangeSet]; the watch loop fires the command only when that set
// is significant.
package snapshot

import (
	"sort"
	"time"
)

// Fingerprint summarises a file's content. Hash is empty unless the scanner
// runs in hash mode.
type Fingerprint struct {
	Size    int64  `json:"size"`
	ModTime int64  `json:"modTime"`
	Hash    string `json:"hash,omitempty"`
}

// Equal reports whether two fingerprints describe the same content. When
// both carry a hash, modification time is ignored so a touch without an
// edit is not a change.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.Size != o.Size {
		return false
	}

	if f.Hash != "" && o.Hash != "" {
		return f.Hash == o.Hash
	}

	return f.ModTime == o.ModTime
}

// SameStat reports whether size and modification time match, which lets a
// scanner reuse a previously computed hash.
func (f Fingerprint) SameStat(o Fingerprint) bool {
	return f.Size == o.Size && f.ModTime == o.ModTime
}

// FileRecord is one watched file.
type FileRecord struct {
	Path        string      `json:"path"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Exists      bool        `json:"exists"`
}

// Snapshot maps relative paths to their records at one polling instant.
type Snapshot struct {
	root      string
	takenAt   time.Time
	files     map[string]FileRecord
	totalSize int64
}

// New builds a snapshot from records. Records without Exists set are
// dropped; a later record for the same path replaces an earlier one.
func New(root string, takenAt time.Time, records []FileRecord) *Snapshot {
	s := &Snapshot{
		root:    root,
		takenAt: takenAt,
		files:   make(map[string]FileRecord, len(records)),
	}

	for _, r := range records {
		if !r.Exists {
			continue
		}

		if prev, ok := s.files[r.Path]; ok {
			s.totalSize -= prev.Fingerprint.Size
		}

		s.files[r.Path] = r
		s.totalSize += r.Fingerprint.Size
	}

	return s
}

// Root returns the absolute watch root the snapshot was taken of.
func (s *Snapshot) Root() string { return s.root }

// TakenAt returns the capture time.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Len returns the number of files.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}

	return len(s.files)
}

// TotalSize returns the summed byte size of all files.
func (s *Snapshot) TotalSize() int64 {
	if s == nil {
		return 0
	}

	return s.totalSize
}

// Get looks up a record by relative path.
func (s *Snapshot) Get(path string) (FileRecord, bool) {
	if s == nil {
		return FileRecord{}, false
	}

	r, ok := s.files[path]

	return r, ok
}

// Paths returns all relative paths in sorted order.
func (s *Snapshot) Paths() []string {
	if s == nil {
		return nil
	}

	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

// Records returns all records sorted by path.
func (s *Snapshot) Records() []FileRecord {
	paths := s.Paths()
	out := make([]FileRecord, len(paths))

	for i, p := range paths {
		out[i] = s.files[p]
	}

	return out
}
