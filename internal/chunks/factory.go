package chunks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telestore/relay/pkg/config"
)

// NewStore creates the chunk store named by configuration
func NewStore(cfg *config.TransferConfig, redisCfg *config.RedisConfig) (Store, error) {
	switch cfg.ChunkStore {
	case "memory":
		return NewMemoryStore(cfg.ChunkSessionTTL, cfg.ChunkSweepEvery), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.RedisAddr(),
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		return NewRedisStore(client, cfg.ChunkSessionTTL), nil
	default:
		return nil, fmt.Errorf("unsupported chunk store: %s", cfg.ChunkStore)
	}
}
