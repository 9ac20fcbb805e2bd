package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend stores state as a JSON document.
type FileBackend struct {
	Path string
}

// NewFileBackend returns a backend reading and writing the JSON file at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

// Load reads the JSON document, returning (nil, nil) when it does not exist.
func (b *FileBackend) Load() (*State, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	return &st, nil
}

// Save writes state to a temporary file and renames it into place.
func (b *FileBackend) Save(st *State) error {
	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	tmpPath := b.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmpPath, b.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("save cache: %w", err)
	}
	return nil
}

// Reset removes the JSON document and any leftover temporary file.
func (b *FileBackend) Reset() error {
	for _, p := range []string{b.Path, b.Path + ".tmp"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reset cache: %w", err)
		}
	}
	return nil
}
