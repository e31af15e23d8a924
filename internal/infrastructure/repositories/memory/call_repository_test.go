package memory

import (
	"context"
	"testing"

	"huddle/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallRepositorySnapshotIsolation(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx := context.Background()

	session := &domain.CallSession{
		ID:           "c1",
		Kind:         domain.CallAudio,
		Status:       domain.CallRinging,
		CallerID:     "alice",
		Participants: []domain.UserID{"alice", "bob"},
	}
	require.NoError(t, repo.Create(ctx, session))

	// Mutating the caller's copy must not leak into the stored session.
	session.Participants = append(session.Participants, "mallory")
	session.Status = domain.CallOngoing

	stored, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, stored.Status)
	assert.ElementsMatch(t, []domain.UserID{"alice", "bob"}, stored.Participants)

	// Same isolation on the way out.
	stored.Participants[0] = "eve"
	again, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), again.Participants[0])
}

func TestCallRepositoryCreateDuplicateFails(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx := context.Background()

	session := &domain.CallSession{ID: "c1", Kind: domain.CallAudio, Participants: []domain.UserID{"alice"}}
	require.NoError(t, repo.Create(ctx, session))
	assert.Error(t, repo.Create(ctx, session))
}

func TestCallRepositoryNotFound(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &domain.CallSession{ID: "missing"}), domain.ErrCallNotFound)
	assert.ErrorIs(t, repo.Remove(ctx, "missing"), domain.ErrCallNotFound)
}

func TestCallRepositoryFindByParticipant(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.CallSession{
		ID: "c1", Kind: domain.CallAudio, Participants: []domain.UserID{"alice", "bob"},
	}))
	require.NoError(t, repo.Create(ctx, &domain.CallSession{
		ID: "c2", Kind: domain.CallVideo, Participants: []domain.UserID{"bob", "carol"},
	}))

	found, err := repo.FindByParticipant(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = repo.FindByParticipant(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, domain.CallID("c2"), found[0].ID)

	found, err = repo.FindByParticipant(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, found)
}
