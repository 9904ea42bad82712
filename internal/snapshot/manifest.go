package snapshot

import (
	"fmt"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// Manifest renders one line per file: path, size, and either the content
// hash or the modification time.
func (s *Snapshot) Manifest() []string {
	records := s.Records()
	lines := make([]string, len(records))

	for i, r := range records {
		sig := r.Fingerprint.Hash
		if sig == "" {
			sig = time.Unix(0, r.Fingerprint.ModTime).UTC().Format(time.RFC3339Nano)
		} else if len(sig) > 12 {
			sig = sig[:12]
		}

		lines[i] = fmt.Sprintf("%s\t%d\t%s\n", r.Path, r.Fingerprint.Size, sig)
	}

	return lines
}

// ManifestDiff returns a unified diff between the manifests of prev and
// curr, or "" when they are identical.
func ManifestDiff(prev, curr *Snapshot, context int) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        prev.Manifest(),
		B:        curr.Manifest(),
		FromFile: label("previous", prev),
		ToFile:   label("current", curr),
		Context:  context,
	}

	unified, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("computing manifest diff: %w", err)
	}

	return strings.TrimRight(unified, "\n"), nil
}

func label(name string, s *Snapshot) string {
	if s == nil || s.takenAt.IsZero() {
		return name
	}

	return name + " " + s.takenAt.Format("15:04:05.000")
}
