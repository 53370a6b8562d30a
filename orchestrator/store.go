package orchestrator

import (
	"context"
	"sync"

	"gowrapportal/types"
)

// SessionStore keeps flow checkpoints for the current session.
type SessionStore interface {
	Save(ctx context.Context, rec types.FlowRecord) error
	Load(ctx context.Context, id string) (types.FlowRecord, bool, error)
	Delete(ctx context.Context, id string) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]types.FlowRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]types.FlowRecord)}
}

func (m *MemoryStore) Save(_ context.Context, rec types.FlowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (types.FlowRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}
