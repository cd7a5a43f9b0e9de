package calibration

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store defines the persistence backend for calibration records.
// Implementations can store to JSON files, SQLite, etc.
type Store interface {
	// Save persists the given record bytes.
	Save(data []byte) error

	// Load retrieves the stored record, nil if none exists yet.
	Load() ([]byte, error)
}

// JSONStore implements Store for file-based JSON persistence.
// Writes are atomic: the record lands in a temp file first and is
// renamed into place, so a crash mid-write never corrupts the last
// good calibration.
type JSONStore struct {
	FilePath string
}

// NewJSONStore creates a new JSON file store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{FilePath: path}
}

// Save writes data atomically to the JSON file.
func (s *JSONStore) Save(data []byte) error {
	if s.FilePath == "" {
		return nil
	}

	dir := filepath.Dir(s.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".calibration-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.FilePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Load reads data from the JSON file.
func (s *JSONStore) Load() ([]byte, error) {
	if s.FilePath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No calibration yet, that's OK
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Ensure JSONStore implements Store
var _ Store = (*JSONStore)(nil)
