package ports

import (
	"context"

	"huddle/internal/core/domain"
)

type PresenceRepository interface {
	// Set stores the entry, replacing any previous one for the same user.
	Set(ctx context.Context, entry *domain.PresenceEntry) error
	Get(ctx context.Context, userID domain.UserID) (*domain.PresenceEntry, error)
	// Remove deletes the entry only if it still points at connID, so a
	// stale disconnect never evicts a newer connection.
	Remove(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) error
	Online(ctx context.Context) ([]domain.UserID, error)
}

type CallRepository interface {
	Create(ctx context.Context, session *domain.CallSession) error
	GetByID(ctx context.Context, id domain.CallID) (*domain.CallSession, error)
	Update(ctx context.Context, session *domain.CallSession) error
	Remove(ctx context.Context, id domain.CallID) error
	FindByParticipant(ctx context.Context, userID domain.UserID) ([]*domain.CallSession, error)
	ListActive(ctx context.Context) ([]*domain.CallSession, error)
}
