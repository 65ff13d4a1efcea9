// SPDX-License-Identifier: Apache-2.0

// Package statestore persists the small pieces of global mutable state the
// upgrade workflow depends on: the migration ordinal, the last-backup
// pointer, and the database-type and SSL-state markers. Each value lives in
// its own plain-text file so the rest of the plugin (and the operator) can
// read them without tooling.
package statestore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joomcode/errorx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
)

// Store is a minimal key-value persistence abstraction. Implementations must
// be safe for sequential use by a single process; cross-process coordination
// is the sequencer's advisory lock's job.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool, error)

	// Set stores the value, creating or replacing the key.
	Set(key, value string) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key string) error
}

// fileStore keeps one file per key under a directory.
type fileStore struct {
	dir string
}

// NewFileStore returns a Store backed by one file per key under dir. The
// directory is created on first write.
func NewFileStore(dir string) Store {
	return &fileStore{dir: dir}
}

func (f *fileStore) path(key string) string {
	return filepath.Join(f.dir, key)
}

func (f *fileStore) Get(key string) (string, bool, error) {
	b, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errorx.IllegalState.Wrap(err, "failed to read state key %q", key)
	}
	return strings.TrimSpace(string(b)), true, nil
}

func (f *fileStore) Set(key, value string) error {
	if err := os.MkdirAll(f.dir, core.DefaultDirPerm); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to create state directory %s", f.dir)
	}

	// write-then-rename so a crash never leaves a half-written value
	tmp, err := os.CreateTemp(f.dir, key+".*")
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to create temp file for state key %q", key)
	}
	if _, err := tmp.WriteString(value + "\n"); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return errorx.IllegalState.Wrap(err, "failed to write state key %q", key)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errorx.IllegalState.Wrap(err, "failed to close temp file for state key %q", key)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return errorx.IllegalState.Wrap(err, "failed to commit state key %q", key)
	}
	return nil
}

func (f *fileStore) Delete(key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errorx.IllegalState.Wrap(err, "failed to delete state key %q", key)
	}
	return nil
}

// memStore is an in-memory Store for tests.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemStore returns an in-memory Store. Intended for tests.
func NewMemStore() Store {
	return &memStore{values: make(map[string]string)}
}

func (m *memStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
