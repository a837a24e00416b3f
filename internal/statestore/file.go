package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"balance-alerts/internal/alertstate"
)

// FileStore persists the alert state as a single JSON document. Writes
// go through a temp file and rename so the record is replaced atomically.
type FileStore struct {
	path string
}

// NewFileStore builds a file-backed store at the given path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("statestore: path is required")
	}
	return &FileStore{path: path}, nil
}

// Load reads the persisted record. A missing file is a fresh start;
// an unreadable or undecodable file is an error.
func (f *FileStore) Load(ctx context.Context) (alertstate.State, bool, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return alertstate.State{}, false, nil
		}
		return alertstate.State{}, false, fmt.Errorf("read state file: %w", err)
	}

	var state alertstate.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return alertstate.State{}, false, fmt.Errorf("decode state file %s: %w", f.path, err)
	}
	return state, true, nil
}

// Save atomically overwrites the record.
func (f *FileStore) Save(ctx context.Context, state alertstate.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".alert_state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp state file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

var _ alertstate.Store = (*FileStore)(nil)
