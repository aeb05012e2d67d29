// Package memory provides an in-process queue.Store.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/codeGROOVE-dev/auto-assign/pkg/queue"
)

type entry struct {
	order   []string
	version int64
}

// Store keeps rotation records in memory. It is safe for concurrent use.
type Store struct {
	records map[queue.Key]entry
	mu      sync.RWMutex
}

var _ queue.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[queue.Key]entry)}
}

// Load returns the record for key.
func (s *Store) Load(_ context.Context, key queue.Key) (queue.Record, error) {
	if err := key.Validate(); err != nil {
		return queue.Record{}, queue.ReadError(key, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[key]
	if !ok {
		return queue.Record{}, nil
	}
	return queue.Record{Order: slices.Clone(e.order), Version: e.version, Found: true}, nil
}

// Save stores order for key if the current version matches expectedVersion.
func (s *Store) Save(_ context.Context, key queue.Key, order []string, expectedVersion int64) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, queue.WriteError(key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[key].version != expectedVersion {
		return 0, queue.ErrConflict
	}

	version := expectedVersion + 1
	stored := slices.Clone(order)
	if stored == nil {
		stored = []string{}
	}
	s.records[key] = entry{order: stored, version: version}
	return version, nil
}
