// Package redisclient opens the optional Redis connection shared by the
// dispatcher lock and the cross-process rate guard.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/broadcast-engine/internal/config"
)

// Open returns (nil, nil) when Redis is disabled. A bare host:port is
// accepted as well as a redis:// URL.
func Open(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.URL == "" {
		return nil, nil
	}

	var client *redis.Client
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		client = redis.NewClient(&redis.Options{Addr: cfg.URL})
	} else {
		client = redis.NewClient(opts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
