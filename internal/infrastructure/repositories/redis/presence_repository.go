package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const presenceSetKey = "huddle:presence:online"

type RedisPresenceRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisPresenceRepository(client *redis.Client) ports.PresenceRepository {
	return &RedisPresenceRepository{
		client: client,
		prefix: "huddle:presence:",
	}
}

func (r *RedisPresenceRepository) entryKey(userID domain.UserID) string {
	return r.prefix + string(userID)
}

func (r *RedisPresenceRepository) Set(ctx context.Context, entry *domain.PresenceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal presence entry: %w", err)
	}

	if err := r.client.Set(ctx, r.entryKey(entry.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set presence entry in Redis: %w", err)
	}

	if err := r.client.SAdd(ctx, presenceSetKey, string(entry.UserID)).Err(); err != nil {
		return fmt.Errorf("failed to add user to online set: %w", err)
	}

	return nil
}

func (r *RedisPresenceRepository) Get(ctx context.Context, userID domain.UserID) (*domain.PresenceEntry, error) {
	data, err := r.client.Get(ctx, r.entryKey(userID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence entry from Redis: %w", err)
	}

	var entry domain.PresenceEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence entry: %w", err)
	}

	return &entry, nil
}

func (r *RedisPresenceRepository) Remove(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) error {
	entry, err := r.Get(ctx, userID)
	if err != nil {
		if err == domain.ErrNotConnected {
			return nil
		}
		return err
	}

	// A disconnect of a replaced connection must not evict the newer one.
	if entry.ConnectionID != connID {
		return nil
	}

	if err := r.client.Del(ctx, r.entryKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence entry from Redis: %w", err)
	}
	if err := r.client.SRem(ctx, presenceSetKey, string(userID)).Err(); err != nil {
		return fmt.Errorf("failed to remove user from online set: %w", err)
	}

	return nil
}

func (r *RedisPresenceRepository) Online(ctx context.Context) ([]domain.UserID, error) {
	ids, err := r.client.SMembers(ctx, presenceSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users from Redis: %w", err)
	}

	users := make([]domain.UserID, 0, len(ids))
	for _, id := range ids {
		users = append(users, domain.UserID(id))
	}
	return users, nil
}
