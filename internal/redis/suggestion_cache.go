package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sn-go/internal/models"
	"sn-go/internal/services"
)

// redisSuggestionCache 是 services.SuggestionCache 接口的 Redis 实现。
// Ranked suggestion lists are cached per user with a TTL; staleness is
// bounded by the TTL rather than invalidated on every graph mutation.
type redisSuggestionCache struct {
	client *redis.Client
}

// NewRedisSuggestionCache 创建一个新的 redisSuggestionCache 实例。
func NewRedisSuggestionCache(client *redis.Client) services.SuggestionCache {
	return &redisSuggestionCache{client: client}
}

const suggestionKeyPrefix = "sugg:user:"

func suggestionKey(userID uint) string {
	return fmt.Sprintf("%s%d", suggestionKeyPrefix, userID)
}

func (c *redisSuggestionCache) Get(ctx context.Context, userID uint) ([]*models.UserSummary, bool, error) {
	val, err := c.client.Get(ctx, suggestionKey(userID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read suggestion cache for user %d: %w", userID, err)
	}

	var items []*models.UserSummary
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		// Treat a corrupt entry as a miss; it will be overwritten.
		return nil, false, nil
	}
	return items, true, nil
}

func (c *redisSuggestionCache) Set(ctx context.Context, userID uint, items []*models.UserSummary, ttl time.Duration) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions for user %d: %w", userID, err)
	}
	if err := c.client.Set(ctx, suggestionKey(userID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write suggestion cache for user %d: %w", userID, err)
	}
	return nil
}

func (c *redisSuggestionCache) Invalidate(ctx context.Context, userID uint) error {
	if err := c.client.Del(ctx, suggestionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate suggestion cache for user %d: %w", userID, err)
	}
	return nil
}
