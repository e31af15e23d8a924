package services

import (
	"context"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateRoundtrip(t *testing.T) {
	users := memory.NewMemoryUserDirectory(false)
	users.Upsert(&domain.User{ID: "alice", Username: "alice", DisplayName: "Alice"})
	svc := NewAuthService("test-secret", users)

	token, err := svc.GenerateToken("alice", "alice", time.Minute)
	require.NoError(t, err)

	user, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), user.ID)
	assert.Equal(t, "Alice", user.DisplayName)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	users := memory.NewMemoryUserDirectory(true)
	svc := NewAuthService("test-secret", users)

	token, err := svc.GenerateToken("alice", "alice", -time.Minute)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	users := memory.NewMemoryUserDirectory(true)
	issuer := NewAuthService("issuer-secret", users)
	verifier := NewAuthService("other-secret", users)

	token, err := issuer.GenerateToken("alice", "alice", time.Minute)
	require.NoError(t, err)

	_, err = verifier.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	svc := NewAuthService("test-secret", memory.NewMemoryUserDirectory(true))

	_, err := svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = svc.Authenticate(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateUnknownUserFails(t *testing.T) {
	users := memory.NewMemoryUserDirectory(false)
	svc := NewAuthService("test-secret", users)

	token, err := svc.GenerateToken("ghost", "ghost", time.Minute)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestAuthenticateProvisionsWhenEnabled(t *testing.T) {
	users := memory.NewMemoryUserDirectory(true)
	svc := NewAuthService("test-secret", users)

	token, err := svc.GenerateToken("newcomer", "newcomer", time.Minute)
	require.NoError(t, err)

	user, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("newcomer"), user.ID)
	assert.Equal(t, domain.StatusOffline, user.Status)
}
