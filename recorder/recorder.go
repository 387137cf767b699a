// Package recorder persists one row per completed call to SQLite for
// offline analysis without slowing the session path. The daemon's own
// decisions never depend on this data; it exists so line quality and
// payphone behavior can be studied after the fact.
package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"proteld/sqliteutil"

	_ "modernc.org/sqlite"
)

// Record is one completed call.
type Record struct {
	CallNumber         uint64
	CallerID           string
	Success            bool
	BytesRead          int
	Strikes            int
	Corrections        int
	RetransmitDistance int
	PayloadHash        uint64
	Duplicate          bool
	StartedAt          time.Time
	EndedAt            time.Time
}

// Recorder writes call records asynchronously. Enqueue never blocks;
// if the queue is full the record is dropped (and counted), which at
// payphone call rates should never happen.
type Recorder struct {
	db    *sql.DB
	queue chan Record
	stop  chan struct{}
	done  chan struct{}
}

const queueSize = 256

// NewRecorder preflights and opens (or creates) the database at path,
// ensures the schema, and starts the insert loop.
func NewRecorder(path string) (*Recorder, error) {
	if _, err := sqliteutil.Preflight(path, 2*time.Second, log.Printf); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"pragma journal_mode=WAL",
		"pragma synchronous=NORMAL",
		"pragma busy_timeout=2000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("recorder: %s: %w", pragma, err)
		}
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	r := &Recorder{
		db:    db,
		queue: make(chan Record, queueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.insertLoop()
	return r, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS call_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    call_number INTEGER,
    caller_id TEXT,
    success INTEGER,
    bytes_read INTEGER,
    strikes INTEGER,
    corrections INTEGER,
    retransmit_distance INTEGER,
    payload_hash TEXT,
    duplicate INTEGER,
    started_at INTEGER,
    ended_at INTEGER
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("recorder: schema: %w", err)
	}
	return nil
}

// Enqueue queues a record for insertion without blocking.
func (r *Recorder) Enqueue(rec Record) {
	if r == nil {
		return
	}
	select {
	case r.queue <- rec:
	default:
		log.Printf("Recorder: queue full, dropping record for call %d", rec.CallNumber)
	}
}

// Close drains pending records and closes the database.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	close(r.stop)
	<-r.done
	return r.db.Close()
}

func (r *Recorder) insertLoop() {
	defer close(r.done)
	for {
		select {
		case rec := <-r.queue:
			r.insert(rec)
		case <-r.stop:
			for {
				select {
				case rec := <-r.queue:
					r.insert(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) insert(rec Record) {
	_, err := r.db.Exec(`
INSERT INTO call_records (
    call_number, caller_id, success, bytes_read, strikes, corrections,
    retransmit_distance, payload_hash, duplicate, started_at, ended_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallNumber,
		rec.CallerID,
		boolToInt(rec.Success),
		rec.BytesRead,
		rec.Strikes,
		rec.Corrections,
		rec.RetransmitDistance,
		fmt.Sprintf("%016x", rec.PayloadHash),
		boolToInt(rec.Duplicate),
		rec.StartedAt.UTC().Unix(),
		rec.EndedAt.UTC().Unix(),
	)
	if err != nil {
		log.Printf("Recorder: failed to insert call %d: %v", rec.CallNumber, err)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
