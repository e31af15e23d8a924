package memory

import (
	"context"
	"fmt"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

type MemoryCallRepository struct {
	sessions map[domain.CallID]*domain.CallSession
	mu       sync.RWMutex
}

func NewMemoryCallRepository() ports.CallRepository {
	return &MemoryCallRepository{
		sessions: make(map[domain.CallID]*domain.CallSession),
	}
}

func (r *MemoryCallRepository) Create(ctx context.Context, session *domain.CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("call session already exists: %s", session.ID)
	}

	r.sessions[session.ID] = session.Snapshot()
	return nil
}

func (r *MemoryCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}

	return session.Snapshot(), nil
}

func (r *MemoryCallRepository) Update(ctx context.Context, session *domain.CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; !exists {
		return domain.ErrCallNotFound
	}

	r.sessions[session.ID] = session.Snapshot()
	return nil
}

func (r *MemoryCallRepository) Remove(ctx context.Context, id domain.CallID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return domain.ErrCallNotFound
	}

	delete(r.sessions, id)
	return nil
}

func (r *MemoryCallRepository) FindByParticipant(ctx context.Context, userID domain.UserID) ([]*domain.CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []*domain.CallSession
	for _, session := range r.sessions {
		if session.HasParticipant(userID) {
			found = append(found, session.Snapshot())
		}
	}

	return found, nil
}

func (r *MemoryCallRepository) ListActive(ctx context.Context) ([]*domain.CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*domain.CallSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session.Snapshot())
	}

	return sessions, nil
}
