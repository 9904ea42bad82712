// Package watch runs the polling loop that turns file changes into test
// runs.
//
// A [Loop] alternates between three states. While IDLE it waits for the next
// poll tick (or an optional wake-up). In SCANNING it asks its [Snapshotter]
// for a fresh snapshot and diffs it against the previous one. A significant
// change moves it to RUNNING, where the command runs to completion before a
// new baseline is taken. Everything happens on one goroutine, so runs never
// overlap and every change made while a run is in flight is absorbed into
// the next baseline.
//
// The optional [Notifier] turns fsnotify events into wake-ups that only make
// the next scan happen sooner; the scan and diff still decide whether
// anything changed.
package watch
