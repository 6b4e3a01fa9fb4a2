// Package snapshot persists the game record to disk so a restarted server
// resumes with the same balances.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lox/throne/internal/throne"
)

const formatVersion = 1

type file struct {
	Version int          `json:"version"`
	State   throne.State `json:"state"`
}

// Save writes state to path atomically: readers see either the previous
// snapshot or the new one, never a partial file.
func Save(path string, state throne.State) error {
	data, err := json.MarshalIndent(file{Version: formatVersion, State: state}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return writeFileAtomic(path, data, 0o600)
}

// Load reads a snapshot. The boolean is false when no snapshot exists.
func Load(path string) (throne.State, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return throne.State{}, false, nil
	}
	if err != nil {
		return throne.State{}, false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return throne.State{}, false, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	if f.Version != formatVersion {
		return throne.State{}, false, fmt.Errorf("unsupported snapshot version %d", f.Version)
	}
	return f.State, true, nil
}

// writeFileAtomic writes to a temp file in the target directory, syncs it
// and renames it over path. The temp file must live on the same filesystem
// for the rename to be atomic.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	tmp = nil

	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
