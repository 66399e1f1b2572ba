package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/willchan-117/human-verifier/internal/session"
)

// filePayload is the JSON envelope written to disk.
type filePayload struct {
	Sessions []*session.Session `json:"sessions"`
	SavedAt  time.Time          `json:"savedAt"`
}

// File is a JSON archive backend, used as the fallback when the SQLite
// backend is unavailable.
type File struct {
	path string
}

// NewFile creates a file-backed archive store.
func NewFile(path string) *File {
	return &File{path: path}
}

// SaveArchive writes the archive atomically via a temp file rename.
func (f *File) SaveArchive(a *session.Archive) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	data, err := json.MarshalIndent(filePayload{Sessions: a.Sessions, SavedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename archive: %w", err)
	}
	return nil
}

// LoadArchive reads the archive, returning ErrEmpty when no file exists.
func (f *File) LoadArchive() (*session.Archive, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("read archive: %w", err)
	}

	var payload filePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal archive: %w", err)
	}

	archive := &session.Archive{Sessions: payload.Sessions}
	for _, s := range archive.Sessions {
		s.Seal()
	}
	if archive.Len() == 0 {
		return nil, ErrEmpty
	}
	return archive, nil
}

// Close is a no-op for the file backend.
func (f *File) Close() error {
	return nil
}
