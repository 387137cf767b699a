// Package stats tracks process-wide call counters for the periodic
// console display and the shutdown summary.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Tracker holds the aggregate call counters. All fields are atomics so
// concurrent sessions never contend on a mutex or lose an increment.
// Counters only ever increase during normal operation.
type Tracker struct {
	start     atomic.Int64
	total     atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	resets    atomic.Uint64
	bytesRead atomic.Uint64
}

// NewTracker creates a tracker with the uptime clock started.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// CallStarted counts a newly accepted call and returns its sequence
// number (1-based). Every accepted connection contributes exactly one
// increment here, regardless of outcome.
func (t *Tracker) CallStarted() uint64 {
	return t.total.Add(1)
}

// CallSucceeded counts a call that produced a complete printout. Each
// session calls this at most once.
func (t *Tracker) CallSucceeded() {
	t.succeeded.Add(1)
}

// CallFailed counts a call that ended without a recognized printout.
func (t *Tracker) CallFailed() {
	t.failed.Add(1)
}

// RecordReset counts one corruption strike / buffer reset.
func (t *Tracker) RecordReset() {
	t.resets.Add(1)
}

// AddBytes adds to the cumulative byte count read from all calls.
func (t *Tracker) AddBytes(n int) {
	if n > 0 {
		t.bytesRead.Add(uint64(n))
	}
}

// Total returns the number of calls accepted so far.
func (t *Tracker) Total() uint64 { return t.total.Load() }

// Succeeded returns the number of calls with a complete printout.
func (t *Tracker) Succeeded() uint64 { return t.succeeded.Load() }

// Failed returns the number of calls that ended without a printout.
func (t *Tracker) Failed() uint64 { return t.failed.Load() }

// Resets returns the cumulative corruption-strike count.
func (t *Tracker) Resets() uint64 { return t.resets.Load() }

// BytesRead returns the cumulative bytes read from all calls.
func (t *Tracker) BytesRead() uint64 { return t.bytesRead.Load() }

// Uptime returns how long the tracker has been running.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(time.Unix(0, t.start.Load()))
}

// SnapshotLines returns human-readable stats for the periodic display.
func (t *Tracker) SnapshotLines() []string {
	return []string{
		fmt.Sprintf("Calls: total=%d success=%d failed=%d resets=%d",
			t.Total(), t.Succeeded(), t.Failed(), t.Resets()),
		fmt.Sprintf("Bytes received: %d", t.BytesRead()),
	}
}

// SummaryLines returns the shutdown summary in the historical fixed
// column format.
func (t *Tracker) SummaryLines() []string {
	return []string{
		fmt.Sprintf("%-16s: %5d", "Calls Processed", t.Total()),
		fmt.Sprintf("%-16s: %5d", "Calls Succeeded", t.Succeeded()),
	}
}
