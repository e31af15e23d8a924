package memory

import (
	"context"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

type MemoryPresenceRepository struct {
	entries map[domain.UserID]*domain.PresenceEntry
	mu      sync.RWMutex
}

func NewMemoryPresenceRepository() ports.PresenceRepository {
	return &MemoryPresenceRepository{
		entries: make(map[domain.UserID]*domain.PresenceEntry),
	}
}

func (r *MemoryPresenceRepository) Set(ctx context.Context, entry *domain.PresenceEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Last writer wins when a user opens a second connection.
	r.entries[entry.UserID] = entry
	return nil
}

func (r *MemoryPresenceRepository) Get(ctx context.Context, userID domain.UserID) (*domain.PresenceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[userID]
	if !exists {
		return nil, domain.ErrNotConnected
	}
	return entry, nil
}

func (r *MemoryPresenceRepository) Remove(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[userID]
	if !exists {
		return nil
	}
	// A disconnect of a replaced connection must not evict the newer one.
	if entry.ConnectionID != connID {
		return nil
	}
	delete(r.entries, userID)
	return nil
}

func (r *MemoryPresenceRepository) Online(ctx context.Context) ([]domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]domain.UserID, 0, len(r.entries))
	for id := range r.entries {
		users = append(users, id)
	}
	return users, nil
}
