// Package persistence is the opaque, durable key-value store of Job
// records keyed by info-hash (spec §4.6): put, get, delete, iter, backed by
// a single JSON file.
package persistence

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/jbrannan/flowgate/internal/logger"
)

// Store is a generic JSON-file-backed map. flowgate instantiates it as
// Store[*job.Record]; it is generic so the persistence layer stays opaque
// to the Job record's shape, matching spec §4.6's "opaque durable map".
type Store[T any] struct {
	mu      sync.RWMutex
	path    string
	records map[string]T
}

// Open loads an existing store from path, or starts an empty one if the
// file doesn't exist yet.
func Open[T any](path string) (*Store[T], error) {
	s := &Store[T]{path: path, records: make(map[string]T)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, err
	}
	return s, nil
}

// Put inserts or replaces a record and persists synchronously.
func (s *Store[T]) Put(key string, record T) error {
	s.mu.Lock()
	s.records[key] = record
	s.mu.Unlock()
	return s.Save()
}

// PutAsync inserts or replaces a record, persisting on a background
// goroutine. Used during `downloading` where writes are throttled to at
// most once per second by the caller (pkg/job) and must not block the
// progress-reporting path.
func (s *Store[T]) PutAsync(key string, record T) {
	s.mu.Lock()
	s.records[key] = record
	s.mu.Unlock()
	go func() {
		if err := s.Save(); err != nil {
			logger.Default().Error().Err(err).Str("key", key).Msg("persistence: background save failed")
		}
	}()
}

// Get returns the record for key, if present.
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	return r, ok
}

// Delete removes a record and persists synchronously.
func (s *Store[T]) Delete(key string) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return s.Save()
}

// Iter returns a snapshot of all records, keyed by info-hash.
func (s *Store[T]) Iter() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]T, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Save writes the current contents to disk.
func (s *Store[T]) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.records, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
