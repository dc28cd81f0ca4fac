// Package settings persists the small amount of state pandock keeps between
// runs. Today that is a single key: the path of the verified converter binary.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

// KeyPandocPath is the key under which the resolved binary path is stored.
const KeyPandocPath = "pandoc_path"

// FileName is the settings file name inside the data directory.
const FileName = "settings.toml"

// ErrInvalidKey is returned for an empty key.
var ErrInvalidKey = errors.New("settings key must not be empty")

// Store is a string key-value store.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// FileStore keeps settings in a TOML file. Every operation takes an advisory
// lock on a sibling .lock file so separate processes see whole-file updates.
type FileStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewFileStore returns a store backed by dir/settings.toml. The file is
// created on the first Set.
func NewFileStore(dir string) *FileStore {
	path := filepath.Join(dir, FileName)
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the settings file location.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value for key and whether it was present.
func (s *FileStore) Get(key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rlock(); err != nil {
		return "", false, err
	}
	defer s.lock.Unlock()

	values, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *FileStore) Set(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.update(func(values map[string]string) bool {
		if cur, ok := values[key]; ok && cur == value {
			return false
		}
		values[key] = value
		return true
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FileStore) Delete(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.update(func(values map[string]string) bool {
		if _, ok := values[key]; !ok {
			return false
		}
		delete(values, key)
		return true
	})
}

// update runs fn on the current values under an exclusive lock and writes the
// result back when fn reports a change.
func (s *FileStore) update(fn func(map[string]string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock settings: %w", err)
	}
	defer s.lock.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	if !fn(values) {
		return nil
	}
	return s.write(values)
}

func (s *FileStore) rlock() error {
	if _, err := os.Stat(filepath.Dir(s.path)); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}
	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("lock settings: %w", err)
	}
	return nil
}

func (s *FileStore) read() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return values, nil
}

// write replaces the settings file using write-then-rename.
func (s *FileStore) write(values map[string]string) error {
	data, err := toml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary settings file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temporary settings file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temporary settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temporary settings file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename settings file: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and ephemeral use.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	sets   int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.sets++
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Sets reports how many times Set was called.
func (m *MemoryStore) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}
