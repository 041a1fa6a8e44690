package space

import (
	"context"
	"sync"
)

// MemoryStore implements Store with in-process maps. It is the default store
// for tests and single-node deployments; durable storage lives in
// internal/store/pg.
type MemoryStore struct {
	mu        sync.RWMutex
	spaces    map[string]SpaceDetails
	auths     map[string]SpaceAuthorization
	delegates map[string][]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		spaces:    make(map[string]SpaceDetails),
		auths:     make(map[string]SpaceAuthorization),
		delegates: make(map[string][]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) GetSpace(ctx context.Context, id string) (SpaceDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.spaces[id]
	if !ok {
		return SpaceDetails{}, ErrSpaceNotFound
	}
	return d, nil
}

func (m *MemoryStore) HasSpace(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.spaces[id]
	return ok, nil
}

func (m *MemoryStore) GetAuthorization(ctx context.Context, id string) (SpaceAuthorization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.auths[id]
	if !ok {
		return SpaceAuthorization{}, ErrAuthorizationNotFound
	}
	return a, nil
}

func (m *MemoryStore) HasAuthorization(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.auths[id]
	return ok, nil
}

func (m *MemoryStore) GetDelegates(ctx context.Context, spaceID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.delegates[spaceID]
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

func (m *MemoryStore) Apply(ctx context.Context, batch Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, d := range batch.Spaces {
		m.spaces[id] = d
	}
	for id, a := range batch.Authorizations {
		m.auths[id] = a
	}
	for _, id := range batch.AuthorizationDeletes {
		delete(m.auths, id)
	}
	for id, list := range batch.Delegates {
		cp := make([]string, len(list))
		copy(cp, list)
		m.delegates[id] = cp
	}
	return nil
}
