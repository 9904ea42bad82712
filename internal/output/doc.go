// Package output renders the daemon's user-facing status lines.
//
// Diagnostics go through log/slog; everything a user watches scroll by
// while editing (readiness, detected changes, command runs and their
// verdicts) is written by a [Reporter]. Styling uses lipgloss and is
// dropped when color is disabled or the destination is not a terminal.
package output
