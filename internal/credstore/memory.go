package credstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Records are lost when the process exits.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, email string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[NormalizeEmail(email)]
	return rec, ok, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, email string, rec Record) error {
	key := NormalizeEmail(email)
	if key == "" {
		return ErrInvalidEmail
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = rec
	return nil
}

// Close implements io.Closer.
func (m *Memory) Close() error {
	return nil
}
