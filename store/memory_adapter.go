package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"journeysync/journey"
)

// MemoryStorage is an in-memory storage adapter. Documents and histories are
// kept as serialized bytes so readers never share structure with writers.
type MemoryStorage struct {
	documents map[string][]byte
	histories map[string][]byte
	mu        sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory storage adapter.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		documents: make(map[string][]byte),
		histories: make(map[string][]byte),
	}
}

// Get loads a document by id.
func (s *MemoryStorage) Get(ctx context.Context, id string) (*journey.Map, error) {
	s.mu.RLock()
	data, ok := s.documents[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "document %s", id)
	}

	var m journey.Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode document")
	}
	return &m, nil
}

// Put stores a document.
func (s *MemoryStorage) Put(ctx context.Context, m *journey.Map) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to encode document")
	}

	s.mu.Lock()
	s.documents[m.ID] = data
	s.mu.Unlock()
	return nil
}

// Delete removes a document and its history.
func (s *MemoryStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.documents, id)
	delete(s.histories, id)
	s.mu.Unlock()
	return nil
}

// GetHistory loads a document's operation history.
func (s *MemoryStorage) GetHistory(ctx context.Context, id string) (*History, error) {
	s.mu.RLock()
	data, ok := s.histories[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "history %s", id)
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrap(err, "failed to decode history")
	}
	return &h, nil
}

// PutHistory stores a document's operation history.
func (s *MemoryStorage) PutHistory(ctx context.Context, id string, h *History) error {
	data, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(err, "failed to encode history")
	}

	s.mu.Lock()
	s.histories[id] = data
	s.mu.Unlock()
	return nil
}

// Close clears the stored data.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	s.documents = make(map[string][]byte)
	s.histories = make(map[string][]byte)
	s.mu.Unlock()
	return nil
}
