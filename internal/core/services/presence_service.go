package services

import (
	"context"
	"fmt"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	rlog "huddle/pkg/logger"

	"go.uber.org/zap"
)

// presenceService owns the user id to connection id mapping and drives the
// online/offline/status broadcasts. Broadcasts are fire-and-forget.
type presenceService struct {
	repo        ports.PresenceRepository
	users       ports.UserDirectory
	broadcaster ports.Broadcaster
	logger      *zap.SugaredLogger
}

func NewPresenceService(repo ports.PresenceRepository, users ports.UserDirectory, broadcaster ports.Broadcaster) ports.PresenceService {
	return &presenceService{
		repo:        repo,
		users:       users,
		broadcaster: broadcaster,
		logger:      rlog.New("info").Sugar(),
	}
}

func (s *presenceService) Register(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) error {
	entry := &domain.PresenceEntry{
		UserID:       userID,
		ConnectionID: connID,
		ConnectedAt:  time.Now(),
	}
	if err := s.repo.Set(ctx, entry); err != nil {
		return fmt.Errorf("failed to store presence entry: %w", err)
	}

	if err := s.users.UpdateStatus(ctx, userID, domain.StatusOnline); err != nil {
		s.logger.Warnw("failed to mark user online", "user_id", userID, "error", err)
	}

	env, err := domain.NewEnvelope(domain.EventUserOnline, userID)
	if err != nil {
		return err
	}
	s.broadcaster.ToAllExcept(connID, env)

	s.logger.Infow("user registered", "user_id", userID, "connection_id", connID)
	return nil
}

func (s *presenceService) Unregister(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) error {
	// Remove is conditional on connID so a reconnect that already replaced
	// the entry is left alone.
	if err := s.repo.Remove(ctx, userID, connID); err != nil {
		return fmt.Errorf("failed to remove presence entry: %w", err)
	}

	if err := s.users.UpdateStatus(ctx, userID, domain.StatusOffline); err != nil {
		s.logger.Warnw("failed to mark user offline", "user_id", userID, "error", err)
	}

	env, err := domain.NewEnvelope(domain.EventUserOffline, userID)
	if err != nil {
		return err
	}
	s.broadcaster.ToAllExcept(connID, env)

	s.logger.Infow("user unregistered", "user_id", userID, "connection_id", connID)
	return nil
}

func (s *presenceService) SetStatus(ctx context.Context, userID domain.UserID, connID domain.ConnectionID, status domain.UserStatus) error {
	if !status.Valid() {
		return domain.ErrInvalidPayload
	}

	// Explicit status changes do not touch the online/offline mapping.
	if err := s.users.UpdateStatus(ctx, userID, status); err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}

	env, err := domain.NewEnvelope(domain.EventUserStatus, domain.StatusPayload{UserID: userID, Status: status})
	if err != nil {
		return err
	}
	s.broadcaster.ToAllExcept(connID, env)

	return nil
}
