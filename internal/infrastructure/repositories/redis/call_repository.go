package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const activeCallsKey = "huddle:calls:active"

type RedisCallRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisCallRepository(client *redis.Client) ports.CallRepository {
	return &RedisCallRepository{
		client: client,
		prefix: "huddle:call:",
	}
}

func (r *RedisCallRepository) callKey(id domain.CallID) string {
	return r.prefix + string(id)
}

func (r *RedisCallRepository) participantKey(userID domain.UserID) string {
	return fmt.Sprintf("huddle:participant:%s:calls", userID)
}

func (r *RedisCallRepository) store(ctx context.Context, session *domain.CallSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal call session: %w", err)
	}
	if err := r.client.Set(ctx, r.callKey(session.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set call session in Redis: %w", err)
	}
	return nil
}

func (r *RedisCallRepository) Create(ctx context.Context, session *domain.CallSession) error {
	if err := r.store(ctx, session); err != nil {
		return err
	}

	if err := r.client.SAdd(ctx, activeCallsKey, string(session.ID)).Err(); err != nil {
		return fmt.Errorf("failed to add call to active set: %w", err)
	}
	for _, userID := range session.Participants {
		if err := r.client.SAdd(ctx, r.participantKey(userID), string(session.ID)).Err(); err != nil {
			return fmt.Errorf("failed to index call participant: %w", err)
		}
	}
	return nil
}

func (r *RedisCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.CallSession, error) {
	data, err := r.client.Get(ctx, r.callKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call session from Redis: %w", err)
	}

	var session domain.CallSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call session: %w", err)
	}

	return &session, nil
}

func (r *RedisCallRepository) Update(ctx context.Context, session *domain.CallSession) error {
	prev, err := r.GetByID(ctx, session.ID)
	if err != nil {
		return err
	}

	if err := r.store(ctx, session); err != nil {
		return err
	}

	// Re-index roster changes.
	for _, userID := range prev.Participants {
		if !session.HasParticipant(userID) {
			if err := r.client.SRem(ctx, r.participantKey(userID), string(session.ID)).Err(); err != nil {
				return fmt.Errorf("failed to unindex call participant: %w", err)
			}
		}
	}
	for _, userID := range session.Participants {
		if err := r.client.SAdd(ctx, r.participantKey(userID), string(session.ID)).Err(); err != nil {
			return fmt.Errorf("failed to index call participant: %w", err)
		}
	}

	return nil
}

func (r *RedisCallRepository) Remove(ctx context.Context, id domain.CallID) error {
	session, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	for _, userID := range session.Participants {
		if err := r.client.SRem(ctx, r.participantKey(userID), string(id)).Err(); err != nil {
			return fmt.Errorf("failed to unindex call participant: %w", err)
		}
	}
	if err := r.client.SRem(ctx, activeCallsKey, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove call from active set: %w", err)
	}
	if err := r.client.Del(ctx, r.callKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete call session from Redis: %w", err)
	}

	return nil
}

func (r *RedisCallRepository) FindByParticipant(ctx context.Context, userID domain.UserID) ([]*domain.CallSession, error) {
	ids, err := r.client.SMembers(ctx, r.participantKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get participant calls from Redis: %w", err)
	}

	var sessions []*domain.CallSession
	for _, id := range ids {
		session, err := r.GetByID(ctx, domain.CallID(id))
		if err == domain.ErrCallNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (r *RedisCallRepository) ListActive(ctx context.Context) ([]*domain.CallSession, error) {
	ids, err := r.client.SMembers(ctx, activeCallsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active calls from Redis: %w", err)
	}

	var sessions []*domain.CallSession
	for _, id := range ids {
		session, err := r.GetByID(ctx, domain.CallID(id))
		if err == domain.ErrCallNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}
