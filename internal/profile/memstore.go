package profile

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store for tests and single-process development
// runs. Safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile

	// SaveErr, if non-nil, is returned by every Save call. Tests use it to
	// exercise the persistence-failure path.
	SaveErr error

	// SaveCount is the number of Save calls, including failed ones.
	SaveCount int
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{profiles: make(map[string]*Profile)}
}

// Load implements Store. A missing id yields a default uncalibrated profile.
func (m *MemStore) Load(_ context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.profiles[userID]; ok {
		return p.Clone(), nil
	}
	return NewDefault(userID), nil
}

// Save implements Store.
func (m *MemStore) Save(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCount++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.profiles[p.UserID] = p.Clone()
	return nil
}

// Ensure MemStore implements Store at compile time.
var _ Store = (*MemStore)(nil)
