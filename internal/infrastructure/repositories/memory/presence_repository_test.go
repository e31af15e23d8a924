package memory

import (
	"context"
	"testing"
	"time"

	"huddle/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceRepositoryConditionalRemove(t *testing.T) {
	repo := NewMemoryPresenceRepository()
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, &domain.PresenceEntry{
		UserID: "alice", ConnectionID: "conn-1", ConnectedAt: time.Now(),
	}))
	require.NoError(t, repo.Set(ctx, &domain.PresenceEntry{
		UserID: "alice", ConnectionID: "conn-2", ConnectedAt: time.Now(),
	}))

	// The old connection's teardown must not evict the replacement.
	require.NoError(t, repo.Remove(ctx, "alice", "conn-1"))
	entry, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionID("conn-2"), entry.ConnectionID)

	require.NoError(t, repo.Remove(ctx, "alice", "conn-2"))
	_, err = repo.Get(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	// Removing an absent user is a no-op.
	assert.NoError(t, repo.Remove(ctx, "alice", "conn-2"))
}

func TestPresenceRepositoryOnline(t *testing.T) {
	repo := NewMemoryPresenceRepository()
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, &domain.PresenceEntry{UserID: "alice", ConnectionID: "c1"}))
	require.NoError(t, repo.Set(ctx, &domain.PresenceEntry{UserID: "bob", ConnectionID: "c2"}))

	online, err := repo.Online(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{"alice", "bob"}, online)
}

func TestMessageStoreMarkRead(t *testing.T) {
	store := NewMemoryMessageStore()
	ctx := context.Background()

	msg, err := store.Create(ctx, "alice", domain.NewMessage{
		ReceiverID: "bob",
		Content:    "hey",
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	require.NoError(t, store.MarkRead(ctx, msg.ID))
	assert.ErrorIs(t, store.MarkRead(ctx, "missing"), domain.ErrMessageNotFound)
}
