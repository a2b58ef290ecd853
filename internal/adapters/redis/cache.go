package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func lockKey(productID uuid.UUID) string {
	return "reservation:" + productID.String()
}

// Acquire takes the advisory per-product lock via SETNX. The TTL mirrors the
// reservation TTL, so even a leaked lock clears itself by the time the hold
// would have expired anyway.
func (c *Cache) Acquire(ctx context.Context, productID, userID uuid.UUID, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, lockKey(productID), userID.String(), ttl)
	return res.Val(), res.Err()
}

func (c *Cache) Release(ctx context.Context, productID uuid.UUID) error {
	return c.client.Del(ctx, lockKey(productID)).Err()
}
