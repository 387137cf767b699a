package recorder

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.db")
	r, err := NewRecorder(path)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	started := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	r.Enqueue(Record{
		CallNumber:         1,
		CallerID:           "3115552368",
		Success:            true,
		BytesRead:          65,
		Strikes:            1,
		Corrections:        2,
		RetransmitDistance: 4,
		PayloadHash:        0xdeadbeef,
		Duplicate:          false,
		StartedAt:          started,
		EndedAt:            started.Add(20 * time.Second),
	})
	// Close drains the queue before returning.
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var (
		caller   string
		success  int
		strikes  int
		hash     string
		duration int64
	)
	row := db.QueryRow(`SELECT caller_id, success, strikes, payload_hash, ended_at - started_at FROM call_records WHERE call_number = 1`)
	if err := row.Scan(&caller, &success, &strikes, &hash, &duration); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if caller != "3115552368" || success != 1 || strikes != 1 {
		t.Fatalf("row mismatch: caller=%q success=%d strikes=%d", caller, success, strikes)
	}
	if hash != "00000000deadbeef" {
		t.Fatalf("hash mismatch: %q", hash)
	}
	if duration != 20 {
		t.Fatalf("expected 20s duration, got %d", duration)
	}
}

func TestRecorderCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "calls.db")
	r, err := NewRecorder(path)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Enqueue(Record{CallNumber: 1})
	if err := r.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
}
