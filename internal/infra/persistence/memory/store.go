// Package memory keeps snapshot records in process memory.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"wardtrace/internal/infra/persistence"
)

// Store is a concurrency-safe in-memory snapshot table.
type Store struct {
	mu   sync.RWMutex
	rows map[string]persistence.Record
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{rows: make(map[string]persistence.Record)}
}

// Insert adds rec, replacing any row with the same id.
func (s *Store) Insert(_ context.Context, rec persistence.Record) error {
	rec.Payload = bytes.Clone(rec.Payload)
	s.mu.Lock()
	s.rows[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

// Get returns the record with id.
func (s *Store) Get(_ context.Context, id string) (persistence.Record, error) {
	s.mu.RLock()
	rec, ok := s.rows[id]
	s.mu.RUnlock()
	if !ok {
		return persistence.Record{}, persistence.ErrNotFound
	}
	rec.Payload = bytes.Clone(rec.Payload)
	return rec, nil
}

// List returns all records oldest first.
func (s *Store) List(_ context.Context) ([]persistence.Meta, error) {
	s.mu.RLock()
	out := make([]persistence.Meta, 0, len(s.rows))
	for _, rec := range s.rows {
		out = append(out, persistence.Meta{ID: rec.ID, CreatedAt: rec.CreatedAt, Size: len(rec.Payload)})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return persistence.Less(out[i], out[j]) })
	return out, nil
}

// Delete removes id and reports whether it existed.
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	delete(s.rows, id)
	return ok, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
