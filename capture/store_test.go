package capture

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"
)

func TestStorePutGet(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "capture"), time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ended := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	raw := []byte("TC! full transcript bytes")
	s.Put(ended, 7, raw)

	got, ok := s.Get(ended, 7)
	if !ok {
		t.Fatalf("transcript not found")
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("transcript mismatch: %q", got)
	}

	if _, ok := s.Get(ended, 8); ok {
		t.Fatalf("found a transcript that was never stored")
	}
}

func TestSweepDeletesOldTranscripts(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "capture"), time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	old := now.Add(-2 * time.Hour)
	fresh := now.Add(-10 * time.Minute)
	s.Put(old, 1, []byte("stale"))
	s.Put(fresh, 2, []byte("recent"))

	if err := s.Sweep(now); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, ok := s.Get(old, 1); ok {
		t.Fatalf("stale transcript survived the sweep")
	}
	if _, ok := s.Get(fresh, 2); !ok {
		t.Fatalf("recent transcript was swept")
	}
}

func TestSweepDisabledWithoutRetention(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "capture"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ancient := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Put(ancient, 1, []byte("keep forever"))
	if err := s.Sweep(time.Now()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, ok := s.Get(ancient, 1); !ok {
		t.Fatalf("transcript deleted despite retention being disabled")
	}
}
