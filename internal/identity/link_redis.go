package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

const linkCodePrefix = "telegram_link:"

// RedisLinkStore keeps Telegram account-link codes in Redis with a TTL, so
// stale codes vanish without any cleanup job.
type RedisLinkStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLinkStore(client *redis.Client, ttl time.Duration) *RedisLinkStore {
	return &RedisLinkStore{client: client, ttl: ttl}
}

func (s *RedisLinkStore) SaveCode(ctx context.Context, code string, userID uuid.UUID) error {
	if err := s.client.Set(ctx, linkCodePrefix+code, userID.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("save link code: %w", err)
	}
	return nil
}

// ConsumeCode atomically reads and deletes a code. An expired or unknown
// code is a not-found, never a fault.
func (s *RedisLinkStore) ConsumeCode(ctx context.Context, code string) (uuid.UUID, error) {
	value, err := s.client.GetDel(ctx, linkCodePrefix+code).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, sentinel.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("consume link code: %w", err)
	}
	userID, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse link code user id: %w", err)
	}
	return userID, nil
}
