package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/asemenov-dev/inspectsync/internal/logging"
)

// entry is the on-disk representation of one key. The file holds an array of
// entries rather than an object so first-insertion order survives reload.
type entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FileStorage is a Storage persisted as a JSON file. The whole store is
// rewritten atomically (temp file + rename) after every mutation; reads are
// served from memory. A load or flush failure is logged, never returned:
// the in-memory state keeps the process usable and the next successful
// flush repairs the file.
type FileStorage struct {
	mu   sync.Mutex
	mem  *MemoryStorage
	path string
	log  logging.Logger
}

// OpenFileStorage loads (or creates) the store at path.
func OpenFileStorage(path string, log logging.Logger) (*FileStorage, error) {
	s := &FileStorage{mem: NewMemoryStorage(), path: path, log: log}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading storage file %s: %w", path, err)
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt store must not prevent startup. Existing data is
		// unrecoverable at this layer, start empty.
		log.Error(context.Background(), "storage file is corrupt, starting empty",
			"path", path, "error", err)
		return s, nil
	}
	for _, e := range entries {
		s.mem.Set(e.Key, e.Value)
	}
	return s, nil
}

func (s *FileStorage) Get(key string) (string, bool) {
	return s.mem.Get(key)
}

func (s *FileStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem.Set(key, value)
	s.flush()
}

func (s *FileStorage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem.Delete(key)
	s.flush()
}

func (s *FileStorage) Keys() []string {
	return s.mem.Keys()
}

// Path returns the backing file path, for change watchers.
func (s *FileStorage) Path() string {
	return s.path
}

func (s *FileStorage) flush() {
	keys := s.mem.Keys()
	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		v, ok := s.mem.Get(k)
		if !ok {
			continue
		}
		entries = append(entries, entry{Key: k, Value: v})
	}

	data, err := json.Marshal(entries)
	if err != nil {
		s.log.Error(context.Background(), "marshalling storage file", "error", err)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.log.Error(context.Background(), "writing storage file", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error(context.Background(), "replacing storage file", "path", s.path, "error", err)
	}
}
