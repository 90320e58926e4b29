// Package repository persists plugin state between hook invocations. Each
// lifecycle event runs in its own short-lived process; everything stateful
// about the hook surface lives in one small JSON file loaded before the hook
// body and saved after it.
package repository

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
)

// FileStore reads and writes the plugin state file.
type FileStore struct {
	path string
}

// NewFileStore creates a store at the given path. Parent directories are
// created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted state. A missing file is an empty state, not an
// error; an unreadable or corrupt file is an error the caller may treat as
// empty after logging it.
func (s *FileStore) Load() (*model.PluginState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &model.PluginState{}, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read state file", goerr.V("path", s.path))
	}

	var st model.PluginState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, goerr.Wrap(err, "failed to parse state file", goerr.V("path", s.path))
	}
	return &st, nil
}

// Save writes the state atomically: a sibling temp file, then a rename.
// Hooks run sequentially per host session, so last-writer-wins is enough.
func (s *FileStore) Save(st *model.PluginState) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create state directory", goerr.V("dir", dir))
	}

	data, err := json.Marshal(st)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return goerr.Wrap(err, "failed to write state file", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return goerr.Wrap(err, "failed to replace state file", goerr.V("path", s.path))
	}
	return nil
}
