package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/repository"
)

var _ repository.StatusCache = (*redisStatusCache)(nil)

const statusKeyPrefix = "gauntlet:status:"

type redisStatusCache struct {
	client *goredis.Client
}

// NewRedisStatusCache creates a Redis-backed cache of terminal job statuses.
func NewRedisStatusCache(client *goredis.Client) repository.StatusCache {
	return &redisStatusCache{client: client}
}

func (r *redisStatusCache) Put(ctx context.Context, status *domain.JobStatus, ttl time.Duration) error {
	b, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("redis: encode status: %w", err)
	}
	if err := r.client.Set(ctx, statusKeyPrefix+status.ID.String(), b, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put status: %w", err)
	}
	return nil
}

func (r *redisStatusCache) Get(ctx context.Context, id uuid.UUID) (*domain.JobStatus, error) {
	b, err := r.client.Get(ctx, statusKeyPrefix+id.String()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get status: %w", err)
	}
	var status domain.JobStatus
	if err := json.Unmarshal(b, &status); err != nil {
		return nil, fmt.Errorf("redis: decode status: %w", err)
	}
	return &status, nil
}
