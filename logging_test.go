package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"proteld/config"
)

func TestLogFileNameForDate(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if got := logFileNameForDate(when); got != "22-Jan-2026.log" {
		t.Fatalf("expected log filename to be 22-Jan-2026.log, got %q", got)
	}
}

func TestParseLogFileDate(t *testing.T) {
	date, ok := parseLogFileDate("22-Jan-2026.log")
	if !ok {
		t.Fatalf("expected filename to parse")
	}
	want := time.Date(2026, time.January, 22, 0, 0, 0, 0, time.UTC)
	if !date.Equal(want) {
		t.Fatalf("parsed %v, want %v", date, want)
	}
	for _, name := range []string{"notes.txt", "22-Jan-2026", "junk.log", ""} {
		if _, ok := parseLogFileDate(name); ok {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}

type captureSink struct {
	lines []string
}

func (c *captureSink) WriteLine(line string, _ time.Time) {
	c.lines = append(c.lines, line)
}

func (c *captureSink) Close() error { return nil }

func TestLogFanoutSplitsLines(t *testing.T) {
	console := &captureSink{}
	file := &captureSink{}
	fanout := newLogFanout(console, file)

	if _, err := fanout.Write([]byte("first line\nsecond ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := fanout.Write([]byte("line\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := []string{"first line", "second line"}
	for _, sink := range []*captureSink{console, file} {
		if len(sink.lines) != len(want) {
			t.Fatalf("got %d lines, want %d: %v", len(sink.lines), len(want), sink.lines)
		}
		for i, line := range want {
			if sink.lines[i] != line {
				t.Fatalf("line %d = %q, want %q", i, sink.lines[i], line)
			}
		}
	}
}

func TestLogFanoutHoldsPartialLine(t *testing.T) {
	console := &captureSink{}
	fanout := newLogFanout(console, nil)

	if _, err := fanout.Write([]byte("no newline yet")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(console.lines) != 0 {
		t.Fatalf("partial line flushed early: %v", console.lines)
	}
	if _, err := fanout.Write([]byte(" done\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(console.lines) != 1 || console.lines[0] != "no newline yet done" {
		t.Fatalf("unexpected lines %v", console.lines)
	}
}

func TestDailyFileSinkWritesTimestampedLines(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 7)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	now := time.Date(2026, time.March, 5, 9, 30, 0, 0, time.UTC)
	sink.WriteLine("call completed", now)
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "05-Mar-2026.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	got := strings.TrimRight(string(data), "\n")
	want := "2026/03/05 09:30:00 call completed"
	if got != want {
		t.Fatalf("log line = %q, want %q", got, want)
	}
}

func TestDailyFileSinkRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 7)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	defer sink.Close()

	day1 := time.Date(2026, time.March, 5, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	sink.WriteLine("before midnight", day1)
	sink.WriteLine("after midnight", day2)

	for _, name := range []string{"05-Mar-2026.log", "06-Mar-2026.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	old := filepath.Join(dir, "01-Mar-2026.log")
	recent := filepath.Join(dir, "09-Mar-2026.log")
	unrelated := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, recent, unrelated} {
		if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	if err := cleanupOldLogs(dir, now, 7); err != nil {
		t.Fatalf("cleanupOldLogs: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed", old)
	}
	for _, path := range []string{recent, unrelated} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to survive: %v", path, err)
		}
	}
}

func TestSetupLoggingWithoutFileSink(t *testing.T) {
	var out strings.Builder
	fanout, err := setupLogging(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	defer fanout.Close()

	if _, err := fanout.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line := strings.TrimRight(out.String(), "\n")
	if !strings.HasSuffix(line, " hello") {
		t.Fatalf("expected timestamped console line, got %q", line)
	}
}
