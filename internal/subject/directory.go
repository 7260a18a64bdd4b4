package subject

import (
	"context"
	"sync"

	"signetry/pkg/platform/sentinel"
)

// Record is what the engine needs to know about a subject (a property or
// transaction reference, opaque beyond ownership).
type Record struct {
	ID      string
	OwnerID string
	AgentID string
}

// Directory is the subject lookup collaborator used for authorization checks
// when an envelope carries a subject reference.
type Directory interface {
	Get(ctx context.Context, id string) (Record, error)
}

// Memory is a Directory backed by a map, for tests and local development.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Add(record Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
}

func (m *Memory) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return Record{}, sentinel.ErrNotFound
	}
	return record, nil
}
