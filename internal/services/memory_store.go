package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryGrantStore keeps unlock grants in process memory.
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string]time.Time
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string]time.Time)}
}

func grantKey(userID, toiletID uuid.UUID) string {
	return userID.String() + ":" + toiletID.String()
}

func (m *MemoryGrantStore) Put(_ context.Context, userID, toiletID uuid.UUID, expiresAt time.Time) error {
	m.mu.Lock()
	m.grants[grantKey(userID, toiletID)] = expiresAt
	m.mu.Unlock()
	return nil
}

func (m *MemoryGrantStore) ExpiresAt(_ context.Context, userID, toiletID uuid.UUID) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.grants[grantKey(userID, toiletID)]
	return exp, ok, nil
}

func (m *MemoryGrantStore) Revoke(_ context.Context, userID, toiletID uuid.UUID) error {
	m.mu.Lock()
	delete(m.grants, grantKey(userID, toiletID))
	m.mu.Unlock()
	return nil
}

// MemoryAdSessionStore keeps pending ad sessions in process memory.
type MemoryAdSessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

type memorySession struct {
	session   AdSession
	expiresAt time.Time
}

func NewMemoryAdSessionStore() *MemoryAdSessionStore {
	return &MemoryAdSessionStore{sessions: make(map[string]memorySession), now: time.Now}
}

func (m *MemoryAdSessionStore) Put(_ context.Context, s AdSession, ttl time.Duration) error {
	m.mu.Lock()
	m.sessions[s.ID] = memorySession{session: s, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdSessionStore) Take(_ context.Context, id string) (*AdSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	delete(m.sessions, id)
	if !m.now().Before(entry.expiresAt) {
		return nil, nil
	}
	s := entry.session
	return &s, nil
}
