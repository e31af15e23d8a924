package services

import (
	"context"
	"encoding/json"
	"testing"

	"huddle/internal/core/domain"
	"huddle/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPresenceFixture() (*presenceService, *memory.MemoryUserDirectory, *fakeBroadcaster) {
	users := memory.NewMemoryUserDirectory(true)
	broadcaster := &fakeBroadcaster{}
	svc := NewPresenceService(memory.NewMemoryPresenceRepository(), users, broadcaster).(*presenceService)
	return svc, users, broadcaster
}

func (b *fakeBroadcaster) toAllExcept(connID domain.ConnectionID, event string) []sentEnvelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEnvelope
	for _, s := range b.sent {
		if s.method == "all_except" && s.target == string(connID) && s.env.Event == event {
			out = append(out, s)
		}
	}
	return out
}

func TestRegisterBroadcastsOnline(t *testing.T) {
	svc, users, broadcaster := newPresenceFixture()
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "conn-1"))

	sent := broadcaster.toAllExcept("conn-1", domain.EventUserOnline)
	require.Len(t, sent, 1)
	var who domain.UserID
	require.NoError(t, json.Unmarshal(sent[0].env.Data, &who))
	assert.Equal(t, domain.UserID("alice"), who)

	user, err := users.FindByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, user.Status)
}

func TestUnregisterBroadcastsOffline(t *testing.T) {
	svc, users, broadcaster := newPresenceFixture()
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "conn-1"))
	broadcaster.reset()

	require.NoError(t, svc.Unregister(ctx, "alice", "conn-1"))
	assert.Len(t, broadcaster.toAllExcept("conn-1", domain.EventUserOffline), 1)

	user, err := users.FindByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, user.Status)
}

func TestStaleUnregisterKeepsNewerConnection(t *testing.T) {
	svc, _, _ := newPresenceFixture()
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "conn-1"))
	// Reconnect replaces the entry before the old connection tears down.
	require.NoError(t, svc.Register(ctx, "alice", "conn-2"))
	require.NoError(t, svc.Unregister(ctx, "alice", "conn-1"))

	entry, err := svc.repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionID("conn-2"), entry.ConnectionID)
}

func TestSetStatusValidation(t *testing.T) {
	svc, users, broadcaster := newPresenceFixture()
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "conn-1"))
	broadcaster.reset()

	err := svc.SetStatus(ctx, "alice", "conn-1", "invisible")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	require.NoError(t, svc.SetStatus(ctx, "alice", "conn-1", domain.StatusAway))
	sent := broadcaster.toAllExcept("conn-1", domain.EventUserStatus)
	require.Len(t, sent, 1)

	var payload domain.StatusPayload
	require.NoError(t, json.Unmarshal(sent[0].env.Data, &payload))
	assert.Equal(t, domain.UserID("alice"), payload.UserID)
	assert.Equal(t, domain.StatusAway, payload.Status)

	user, err := users.FindByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAway, user.Status)
}
