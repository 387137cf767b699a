// Package sqliteutil checks a SQLite database before the daemon opens
// it for real. A call-log file left behind by a crash can hold a stale
// WAL that stalls the first write for minutes; the preflight bounds
// that risk and moves a damaged file out of the way so startup never
// blocks on it.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Preflight runs a bounded WAL checkpoint plus quick_check on the
// database at path. On error or timeout the database and its sidecar
// files are renamed to a timestamped quarantine path so the caller can
// continue with a fresh file. The returned path is empty when the
// database was healthy (or absent).
func Preflight(path string, timeout time.Duration, logf func(string, ...any)) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("preflight: empty path")
	}
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// Nothing to check; the recorder will create it.
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("preflight: ensure dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("preflight: open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return "", fmt.Errorf("preflight: set busy_timeout: %w", err)
	}

	checkpointErr := checkpoint(ctx, db)
	checkErr := quickCheck(ctx, db)
	if checkpointErr == nil && checkErr == nil {
		return "", nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("preflight: timed out after %s", timeout)
	}

	_ = db.Close()
	quarantined, qErr := quarantine(path)
	if qErr != nil {
		return "", fmt.Errorf("preflight: quarantine failed: %w (checkpoint=%v, quick_check=%v)", qErr, checkpointErr, checkErr)
	}
	logf("preflight: %s failed checks (checkpoint=%v, quick_check=%v); quarantined to %s",
		path, checkpointErr, checkErr, quarantined)
	return quarantined, nil
}

func checkpoint(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)")
	return err
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if scanErr := rows.Scan(&status); scanErr != nil {
			return scanErr
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

// quarantine renames the database and any sidecar files to a shared
// timestamped suffix and returns the new main-file path.
func quarantine(path string) (string, error) {
	ts := time.Now().UTC().Format("20060102T150405Z")
	dest := fmt.Sprintf("%s.bad-%s", path, ts)
	for _, sidecar := range []string{"", "-wal", "-shm", "-journal"} {
		src := path + sidecar
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := os.Rename(src, dest+sidecar); err != nil {
			return "", err
		}
	}
	return dest, nil
}
