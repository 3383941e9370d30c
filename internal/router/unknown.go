package router

import (
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/xtxerr/tickvault/internal/errors"
)

// UnknownLog is the append-only side channel for structurally valid
// frames that lack a routable topic. It is independent of the data sink
// and is never rotated or compacted by the recorder.
type UnknownLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenUnknownLog opens (or creates) the unknown-message log at path.
func OpenUnknownLog(path string) (*UnknownLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.Persistencef("create log dir: %v", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, apperrors.Persistencef("open unknown log %s: %v", path, err)
	}

	return &UnknownLog{f: f}, nil
}

// Write appends one frame as a single line.
func (u *UnknownLog) Write(payload []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.f == nil {
		return apperrors.Persistencef("unknown log closed")
	}

	// The payload slice is shared with the caller; never append into its
	// backing array.
	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')

	if _, err := u.f.Write(line); err != nil {
		return apperrors.Persistencef("append unknown log: %v", err)
	}
	return nil
}

// Close closes the log file.
func (u *UnknownLog) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.f == nil {
		return nil
	}
	err := u.f.Close()
	u.f = nil
	return err
}
