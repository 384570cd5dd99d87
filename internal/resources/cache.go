package resources

import (
	"context"

	"github.com/Proton-105/shutdown-sequencer/pkg/config"
	"github.com/Proton-105/shutdown-sequencer/pkg/redis"
)

// Cache is the Redis client released on shutdown.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Name() string { return config.ResourceRedis }

func (c *Cache) Close(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return closeWithContext(ctx, c.client.Close)
}
