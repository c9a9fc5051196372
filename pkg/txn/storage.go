package txn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"dal/runtime-go/pkg/runtime"
)

// Write is one entry of a committed batch. Delete removes the key.
type Write struct {
	Key    string
	Value  runtime.Value
	Delete bool
}

// Storage holds committed state. Apply must be atomic: either every write
// of the batch becomes visible or none does.
type Storage interface {
	Get(key string) (runtime.Value, bool, error)
	Apply(batch []Write) error
	Keys() ([]string, error)
	Close() error
}

// MemoryStorage keeps committed state in process memory.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]runtime.Value
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]runtime.Value)}
}

func (s *MemoryStorage) Get(key string) (runtime.Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStorage) Apply(batch []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range batch {
		if w.Delete {
			delete(s.data, w.Key)
			continue
		}
		s.data[w.Key] = w.Value
	}
	return nil
}

func (s *MemoryStorage) Keys() ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStorage) Close() error { return nil }

// FileStorage is MemoryStorage persisted as a JSON document. Every batch
// rewrites the file through a temp file and rename.
type FileStorage struct {
	mem  *MemoryStorage
	path string
	mu   sync.Mutex
}

// OpenFileStorage loads path if it exists.
func OpenFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("file storage: empty path")
	}
	s := &FileStorage{mem: NewMemoryStorage(), path: path}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("file storage: read %s: %w", path, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("file storage: parse %s: %w", path, err)
	}
	for k, encoded := range raw {
		v, err := runtime.DecodeJSON(encoded)
		if err != nil {
			return nil, fmt.Errorf("file storage: key %s: %w", k, err)
		}
		s.mem.data[k] = v
	}
	return s, nil
}

func (s *FileStorage) Get(key string) (runtime.Value, bool, error) {
	return s.mem.Get(key)
}

func (s *FileStorage) Apply(batch []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.mu.RLock()
	next := make(map[string]runtime.Value, len(s.mem.data)+len(batch))
	for k, v := range s.mem.data {
		next[k] = v
	}
	s.mem.mu.RUnlock()
	for _, w := range batch {
		if w.Delete {
			delete(next, w.Key)
			continue
		}
		next[w.Key] = w.Value
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.mem.mu.Lock()
	s.mem.data = next
	s.mem.mu.Unlock()
	return nil
}

func (s *FileStorage) persist(data map[string]runtime.Value) error {
	raw := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		encoded, err := runtime.EncodeJSON(v)
		if err != nil {
			return fmt.Errorf("file storage: encode %s: %w", k, err)
		}
		raw[k] = encoded
	}
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("file storage: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file storage: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("file storage: temp file: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("file storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file storage: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file storage: rename: %w", err)
	}
	return nil
}

func (s *FileStorage) Keys() ([]string, error) {
	return s.mem.Keys()
}

func (s *FileStorage) Close() error { return nil }
