package cache

import (
	"context"
	"sync"

	"github.com/geocoder89/tripadmin/internal/domain/user"
)

// MemoryStore keeps the snapshot in process. Used by tests and single-instance deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	snap *Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	c := snap.clone()

	m.mu.Lock()
	m.snap = &c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SaveIfNewer(_ context.Context, snap Snapshot) (bool, error) {
	c := snap.clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap != nil && c.FetchedAt.Before(m.snap.FetchedAt) {
		return false, nil
	}
	m.snap = &c
	return true, nil
}

func (m *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snap == nil {
		return Snapshot{}, ErrCacheEmpty
	}
	return m.snap.clone(), nil
}

func (m *MemoryStore) Remove(ctx context.Context, userID string) error {
	_, err := m.RemoveMany(ctx, []string{userID})
	return err
}

func (m *MemoryStore) RemoveMany(_ context.Context, userIDs []string) (int, error) {
	ids := user.IDSet(userIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap == nil {
		return 0, nil
	}

	kept, removed := user.Without(m.snap.Users, ids)
	m.snap = &Snapshot{Users: kept, FetchedAt: m.snap.FetchedAt}
	return removed, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, userID string, fn func(*user.Record)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap == nil {
		return false, nil
	}

	users := make([]user.Record, len(m.snap.Users))
	copy(users, m.snap.Users)
	if !user.Patch(users, userID, fn) {
		return false, nil
	}
	m.snap = &Snapshot{Users: users, FetchedAt: m.snap.FetchedAt}
	return true, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.snap = nil
	m.mu.Unlock()
	return nil
}
