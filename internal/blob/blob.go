package blob

import (
	"context"
	"fmt"
	"sync"

	"signetry/pkg/platform/sentinel"
)

// Store is the blob storage collaborator for source and signed documents.
// The engine treats refs as opaque.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

type entry struct {
	data        []byte
	contentType string
}

// Memory is the in-process Store used by tests and local development.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := fmt.Sprintf("mem://%s", key)
	m.entries[ref] = entry{data: append([]byte(nil), data...), contentType: contentType}
	return ref, nil
}

func (m *Memory) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[ref]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}
