package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bknd-io/bknd/errors"
)

// MemoryStore is an in-memory Store used in tests and ephemeral runs.
// It mirrors the ordering and immutability guarantees of the SQLite store.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   []ConfigRecord
	nextID int64
	synced bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// FetchLatest returns the highest-versioned row among the given types.
func (s *MemoryStore) FetchLatest(_ context.Context, types ...RecordType) (ConfigRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[RecordType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var best *ConfigRecord
	for i := range s.rows {
		row := &s.rows[i]
		if len(wanted) > 0 && !wanted[row.Type] {
			continue
		}
		// ties resolve to the newest row, matching the SQLite ordering
		if best == nil || row.Version > best.Version ||
			(row.Version == best.Version && row.ID > best.ID) {
			best = row
		}
	}
	if best == nil {
		return ConfigRecord{}, errors.ErrConfigNotFound
	}
	return cloneRecord(*best), nil
}

// Insert appends one row.
func (s *MemoryStore) Insert(_ context.Context, rec ConfigRecord) (ConfigRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(rec), nil
}

// InsertMany appends rows atomically.
func (s *MemoryStore) InsertMany(_ context.Context, recs []ConfigRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.insertLocked(rec)
	}
	return nil
}

func (s *MemoryStore) insertLocked(rec ConfigRecord) ConfigRecord {
	now := time.Now().UTC()
	rec.ID = s.nextID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.nextID++
	s.rows = append(s.rows, cloneRecord(rec))
	return rec
}

// UpdateByID replaces the payload of an existing row.
func (s *MemoryStore) UpdateByID(_ context.Context, id int64, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows[i].JSON = append(json.RawMessage(nil), payload...)
			s.rows[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: row %d", errors.ErrRecordNotFound, id)
}

// Sync marks the store ready. With force set, all rows are dropped.
func (s *MemoryStore) Sync(_ context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if force {
		s.rows = nil
		s.nextID = 1
	}
	s.synced = true
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Len reports how many rows the store holds.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Rows returns a copy of every stored row in insertion order.
func (s *MemoryStore) Rows() []ConfigRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConfigRecord, len(s.rows))
	for i, row := range s.rows {
		out[i] = cloneRecord(row)
	}
	return out
}

func cloneRecord(rec ConfigRecord) ConfigRecord {
	rec.JSON = append(json.RawMessage(nil), rec.JSON...)
	return rec
}
