package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/information-sharing-networks/incremental-auth/internal/picket"
)

// MemoryStore keeps sessions in process. Sessions are lost on restart and are not shared between replicas.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Record
	ttl      time.Duration
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Record),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec := &Record{
		ID:        newID(),
		Grants:    make(map[string]string),
		Errors:    make(map[string]string),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.sessions[rec.ID] = rec
	return rec.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// lookupLocked returns the live record for id and evicts it when expired. m.mu must be held.
func (m *MemoryStore) lookupLocked(id string) (*Record, error) {
	rec, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.now().Before(rec.ExpiresAt) {
		delete(m.sessions, id)
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) update(id string, fn func(rec *Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	fn(rec)
	return nil
}

func (m *MemoryStore) SetAuth(_ context.Context, id string, state picket.AuthState) error {
	return m.update(id, func(rec *Record) {
		rec.Auth = &state
		rec.Grants = make(map[string]string)
		rec.Errors = make(map[string]string)
	})
}

func (m *MemoryStore) ClearAuth(_ context.Context, id string) error {
	return m.update(id, func(rec *Record) {
		rec.Auth = nil
		rec.Grants = make(map[string]string)
		rec.Errors = make(map[string]string)
	})
}

func (m *MemoryStore) Grant(_ context.Context, id, contractAddress, balance string) error {
	return m.update(id, func(rec *Record) {
		rec.Grants[contractAddress] = balance
	})
}

func (m *MemoryStore) SetError(_ context.Context, id, communityID, message string) error {
	return m.update(id, func(rec *Record) {
		rec.Errors[communityID] = message
	})
}

func (m *MemoryStore) DeleteError(_ context.Context, id, communityID string) error {
	return m.update(id, func(rec *Record) {
		delete(rec.Errors, communityID)
	})
}

func (m *MemoryStore) ResetErrors(_ context.Context, id string) error {
	return m.update(id, func(rec *Record) {
		rec.Errors = make(map[string]string)
	})
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len returns the number of sessions held, including expired sessions not yet evicted
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// evictExpired removes expired sessions and returns how many were removed
func (m *MemoryStore) evictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, rec := range m.sessions {
		if !now.Before(rec.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run evicts expired sessions every interval until ctx is cancelled
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.evictExpired(); n > 0 {
				logger.Debug("expired sessions removed",
					slog.String("component", "session.MemoryStore"),
					slog.Int("removed", n),
				)
			}
		}
	}
}
