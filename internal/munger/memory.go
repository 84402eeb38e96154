package munger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process RecordStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	byKey   map[recordKey]string
}

type recordKey struct {
	distillery, collection, docID string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		byKey:   make(map[recordKey]string),
	}
}

// Save implements RecordStore. Records without a DocID are never deduplicated.
func (s *MemoryStore) Save(_ context.Context, rec *Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{rec.Distillery, rec.Collection, rec.DocID}
	if rec.DocID != "" {
		if id, ok := s.byKey[key]; ok {
			return id, nil
		}
	}

	stored := *rec
	stored.ID = uuid.New().String()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.records[stored.ID] = &stored
	if rec.DocID != "" {
		s.byKey[key] = stored.ID
	}
	return stored.ID, nil
}

// FindByID implements RecordStore.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
