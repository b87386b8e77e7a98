// Package file implements the progress repository on a local JSON file.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/docpress/docpress/internal/store"
)

// Store persists frontier snapshots as a single JSON document, written
// atomically so a crash mid-save never corrupts the previous snapshot.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store writing to the given path. Parent directories are
// created on demand.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("progress file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create progress dir: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Save writes the snapshot via a temp file and rename.
func (s *Store) Save(_ context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the last saved snapshot, or store.ErrNotFound if none exists.
func (s *Store) Load(_ context.Context) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return store.Snapshot{}, store.ErrNotFound
		}
		return store.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
