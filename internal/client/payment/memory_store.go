package payment

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore для PAYMENT_SESSION_STORE=memory и тестов
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]memorySession
	now      func() time.Time
}

type memorySession struct {
	session   Session
	expiresAt time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
		now:      time.Now,
	}
}

func (m *MemorySessionStore) Save(_ context.Context, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.PaymentIntentID] = memorySession{session: s, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, paymentIntentID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.sessions[paymentIntentID]
	if !ok || m.now().After(entry.expiresAt) {
		return Session{}, ErrSessionNotFound
	}
	return entry.session, nil
}
