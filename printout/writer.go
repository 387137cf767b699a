// Package printout writes each call's raw bytes to its own file for
// offline post-processing. The daemon deliberately saves the stream as
// received; cleanup and standardization happen elsewhere.
package printout

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// Writer saves one file per call into a fixed directory.
type Writer struct {
	dir string
}

// NewWriter ensures the output directory exists and returns a writer.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("printout: output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("printout: ensure dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Save writes the raw call bytes and returns the file path. Successful
// calls are named <unix>_<callerID>.txt so the phone number is visible
// at a glance. Failed calls have no reliable identifier, so the name
// is synthesized from the timestamp plus a random suffix, probing
// until an unused name is found; concurrent modems feeding the same
// daemon can land on the same second.
func (w *Writer) Save(raw []byte, callerID string, success bool) (string, error) {
	if w == nil {
		return "", errors.New("printout: writer not configured")
	}
	var path string
	if success && callerID != "" {
		path = filepath.Join(w.dir, fmt.Sprintf("%d_%s.txt", time.Now().Unix(), callerID))
	} else {
		for {
			path = filepath.Join(w.dir, fmt.Sprintf("%d_%d_R.txt", time.Now().Unix(), rand.Intn(100000)))
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				break
			}
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("printout: write %s: %w", path, err)
	}
	return path, nil
}
