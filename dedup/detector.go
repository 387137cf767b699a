// Package dedup flags repeated printouts. A payphone that fails to get
// an acknowledgment will redial and send the identical printout again;
// spotting the repeat lets the call log mark the duplicate instead of
// counting the same collection twice in post-processing.
package dedup

import (
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// Detector remembers payload hashes for a time window. Cardinality is
// tiny at payphone call rates, so one mutex over a plain map is
// enough; no sharding needed.
type Detector struct {
	window time.Duration
	mu     sync.Mutex
	seen   map[uint64]time.Time
	stop   chan struct{}
	done   chan struct{}
}

const sweepInterval = time.Minute

// New creates a detector with the given window. A zero or negative
// window disables flagging while keeping the call sites unchanged.
func New(window time.Duration) *Detector {
	d := &Detector{
		window: window,
		seen:   make(map[uint64]time.Time),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.sweepLoop()
	return d
}

// Hash returns the dedupe hash of a payload.
func Hash(payload []byte) uint64 {
	return xxh3.Hash(payload)
}

// Check records the payload and reports whether an identical one was
// already seen inside the window. The first occurrence always returns
// false; it also refreshes the window, so a payphone stuck in a redial
// loop stays flagged.
func (d *Detector) Check(payload []byte, now time.Time) (uint64, bool) {
	hash := Hash(payload)
	if d == nil || d.window <= 0 {
		return hash, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.seen[hash]
	d.seen[hash] = now
	return hash, ok && now.Sub(last) <= d.window
}

// Stop ends the background sweep.
func (d *Detector) Stop() {
	if d == nil {
		return
	}
	close(d.stop)
	<-d.done
}

func (d *Detector) sweepLoop() {
	defer close(d.done)
	if d.window <= 0 {
		<-d.stop
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.sweep(time.Now())
		}
	}
}

func (d *Detector) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for hash, last := range d.seen {
		if now.Sub(last) > d.window {
			delete(d.seen, hash)
		}
	}
}
