package ports

import (
	"context"

	"huddle/internal/core/domain"
)

// External collaborators the relay consumes. The relational schema and the
// query layer behind them are out of scope; the relay only depends on these
// interfaces.

type UserDirectory interface {
	FindByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	UpdateStatus(ctx context.Context, id domain.UserID, status domain.UserStatus) error
}

type GroupDirectory interface {
	IsMember(ctx context.Context, groupID string, userID domain.UserID) (bool, error)
	Members(ctx context.Context, groupID string) ([]domain.UserID, error)
}

type MessageStore interface {
	// Create persists the message and returns it with id and timestamp
	// assigned.
	Create(ctx context.Context, sender domain.UserID, msg domain.NewMessage) (*domain.Message, error)
	MarkRead(ctx context.Context, id domain.MessageID) error
}
