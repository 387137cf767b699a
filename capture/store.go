// Package capture archives every call's raw byte stream, success or
// not, in a Pebble store with time-based retention. The printout files
// only exist for calls the operator asked to save; the capture store
// keeps the full transcript of everything the daemon heard, so a
// failed call's noise can still be inspected later.
package capture

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cockroachdb/pebble"
)

// Store persists raw call transcripts keyed by end time and call
// number. Keys sort chronologically, which makes the retention sweep a
// single range deletion.
type Store struct {
	db        *pebble.DB
	retention time.Duration
	stop      chan struct{}
	done      chan struct{}
}

const sweepInterval = 15 * time.Minute

// Open creates or opens the store at path. retention <= 0 disables the
// sweep (transcripts are kept forever).
func Open(path string, retention time.Duration) (*Store, error) {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("capture: %s exists and is not a directory", path)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("capture: open: %w", err)
	}
	s := &Store{
		db:        db,
		retention: retention,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.sweepLoop()
	return s, nil
}

// Put stores one call transcript. Write errors are logged, not
// returned; the capture store must never take a session down with it.
func (s *Store) Put(endedAt time.Time, callNumber uint64, raw []byte) {
	if s == nil || s.db == nil {
		return
	}
	key := makeKey(endedAt, callNumber)
	if err := s.db.Set(key, raw, pebble.NoSync); err != nil {
		log.Printf("Capture: failed to store call %d: %v", callNumber, err)
	}
}

// Get returns the transcript for a call, if still retained.
func (s *Store) Get(endedAt time.Time, callNumber uint64) ([]byte, bool) {
	if s == nil || s.db == nil {
		return nil, false
	}
	value, closer, err := s.db.Get(makeKey(endedAt, callNumber))
	if err != nil {
		return nil, false
	}
	out := append([]byte(nil), value...)
	_ = closer.Close()
	return out, true
}

// Sweep deletes transcripts older than the retention window as of now.
// Exposed for tests; the background loop calls it on a ticker.
func (s *Store) Sweep(now time.Time) error {
	if s == nil || s.db == nil || s.retention <= 0 {
		return nil
	}
	cutoff := makeKey(now.Add(-s.retention), 0)
	if err := s.db.DeleteRange(makeKey(time.Unix(0, 0), 0), cutoff, pebble.NoSync); err != nil {
		return fmt.Errorf("capture: sweep: %w", err)
	}
	return nil
}

// Close stops the sweep loop and closes the store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	close(s.stop)
	<-s.done
	return s.db.Close()
}

func (s *Store) sweepLoop() {
	defer close(s.done)
	if s.retention <= 0 {
		<-s.stop
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Sweep(time.Now().UTC()); err != nil {
				log.Printf("Capture: %v", err)
			}
		}
	}
}

// makeKey builds a 16-byte big-endian key of unix nanos followed by
// the call number, so byte order matches time order.
func makeKey(t time.Time, callNumber uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(key[8:], callNumber)
	return key
}
