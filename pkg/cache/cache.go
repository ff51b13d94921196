package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/restaurant-iam/pkg/config"
)

// Cache is a snapshot cache with a lifecycle
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// New builds the backend selected by cfg.Backend. It returns nil, nil for
// "none", which leaves the service uncached.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "redis":
		c, err := NewRedisCache(RedisOptions{
			URL:        cfg.RedisURL,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			PoolSize:   cfg.RedisPoolSize,
			MaxRetries: cfg.RedisMaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "memory":
		return NewMemoryCache(cfg.MemorySize, cfg.TTL), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
