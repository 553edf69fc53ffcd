package authz

import (
	"context"
	"maps"
	"sync"
)

// ErrorMap holds the last error message per community id for one session.
// Implementations must apply each call to its key only, so concurrent checks of different communities do not overwrite each other.
type ErrorMap interface {
	Set(ctx context.Context, communityID, message string) error
	Delete(ctx context.Context, communityID string) error
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (map[string]string, error)
}

// MemoryErrorMap is an in-process ErrorMap
type MemoryErrorMap struct {
	mu     sync.Mutex
	errors map[string]string
}

func NewMemoryErrorMap() *MemoryErrorMap {
	return &MemoryErrorMap{errors: make(map[string]string)}
}

func (m *MemoryErrorMap) Set(_ context.Context, communityID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[communityID] = message
	return nil
}

func (m *MemoryErrorMap) Delete(_ context.Context, communityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, communityID)
	return nil
}

func (m *MemoryErrorMap) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = make(map[string]string)
	return nil
}

func (m *MemoryErrorMap) Snapshot(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.errors), nil
}
