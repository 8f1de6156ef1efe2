package status

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/johndosdos/chatterd/internal/model"
)

// Store persists status records.
type Store interface {
	Create(ctx context.Context, r Record) error
	Get(ctx context.Context, site model.SiteID, messageID uuid.UUID) (Record, error)
	Save(ctx context.Context, r Record) error
}

type recordKey struct {
	site model.SiteID
	id   uuid.UUID
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record)}
}

func (s *MemoryStore) Create(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{site: r.Site, id: r.MessageID}
	if _, ok := s.records[k]; ok {
		return ErrExists
	}
	s.records[k] = r.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, site model.SiteID, messageID uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[recordKey{site: site, id: messageID}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r.clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{site: r.Site, id: r.MessageID}
	if _, ok := s.records[k]; !ok {
		return ErrNotFound
	}
	s.records[k] = r.clone()
	return nil
}
