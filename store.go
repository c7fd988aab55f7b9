package ipsync

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/gofrs/flock"
)

// FileStore persists the last known address as a single line of text.
//
// Writes take an exclusive lock on a sidecar lock file;
// a concurrent writer fails immediately instead of blocking.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Read implements ipsync.StateStore.
// A store file that does not exist yet reads as the empty string.
func (s *FileStore) Read() (string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error reading %s: %w", s.path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Write implements ipsync.StateStore.
func (s *FileStore) Write(ip string) error {
	lock := flock.New(s.path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("error locking %s: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%s is held by another process", lock.Path())
	}
	defer lock.Unlock()

	if err := os.WriteFile(s.path, []byte(ip+"\n"), 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", s.path, err)
	}
	return nil
}
