package memory

import (
	"context"
	"sync"
	"time"

	"huddle/internal/core/domain"

	"github.com/google/uuid"
)

// The user and group directories and the message store are owned by the
// product backend. These in-memory implementations back standalone runs
// and tests.

type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[domain.UserID]*domain.User

	// autoProvision creates a user on first lookup instead of failing, so a
	// standalone relay accepts any holder of a valid token.
	autoProvision bool
}

func NewMemoryUserDirectory(autoProvision bool) *MemoryUserDirectory {
	return &MemoryUserDirectory{
		users:         make(map[domain.UserID]*domain.User),
		autoProvision: autoProvision,
	}
}

func (d *MemoryUserDirectory) Upsert(user *domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := *user
	d.users[user.ID] = &clone
}

func (d *MemoryUserDirectory) FindByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if user, ok := d.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	if !d.autoProvision {
		return nil, domain.ErrUserNotFound
	}

	user := &domain.User{
		ID:       id,
		Username: string(id),
		Status:   domain.StatusOffline,
	}
	d.users[id] = user
	clone := *user
	return &clone, nil
}

func (d *MemoryUserDirectory) UpdateStatus(ctx context.Context, id domain.UserID, status domain.UserStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.Status = status
	return nil
}

type MemoryGroupDirectory struct {
	mu     sync.RWMutex
	groups map[string]map[domain.UserID]struct{}
}

func NewMemoryGroupDirectory() *MemoryGroupDirectory {
	return &MemoryGroupDirectory{
		groups: make(map[string]map[domain.UserID]struct{}),
	}
}

func (d *MemoryGroupDirectory) AddMember(groupID string, userID domain.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.groups[groupID]
	if !ok {
		members = make(map[domain.UserID]struct{})
		d.groups[groupID] = members
	}
	members[userID] = struct{}{}
}

func (d *MemoryGroupDirectory) IsMember(ctx context.Context, groupID string, userID domain.UserID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members, ok := d.groups[groupID]
	if !ok {
		return false, nil
	}
	_, member := members[userID]
	return member, nil
}

func (d *MemoryGroupDirectory) Members(ctx context.Context, groupID string) ([]domain.UserID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := make([]domain.UserID, 0, len(d.groups[groupID]))
	for id := range d.groups[groupID] {
		members = append(members, id)
	}
	return members, nil
}

type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[domain.MessageID]*domain.Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[domain.MessageID]*domain.Message),
	}
}

func (s *MemoryMessageStore) Create(ctx context.Context, sender domain.UserID, draft domain.NewMessage) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &domain.Message{
		ID:          domain.MessageID(uuid.NewString()),
		SenderID:    sender,
		ReceiverID:  draft.ReceiverID,
		GroupID:     draft.GroupID,
		Content:     draft.Content,
		MessageType: draft.MessageType,
		FileURL:     draft.FileURL,
		FileName:    draft.FileName,
		CreatedAt:   time.Now(),
	}
	s.messages[msg.ID] = msg

	clone := *msg
	return &clone, nil
}

func (s *MemoryMessageStore) MarkRead(ctx context.Context, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	now := time.Now()
	msg.ReadAt = &now
	return nil
}
