// Package queue implements the UploadEvent, PhotoJob, and CleanupJob queues
// on top of Redis Streams, grounded on the pack's redis client setup
// (KuanyshMaral-mwork-backend's internal/pkg/database/redis.go). Streams
// with consumer groups give the at-least-once delivery semantics spec
// section 5 requires directly: XREADGROUP claims a message for a consumer,
// XACK removes it on success, and an unacked message becomes reclaimable
// via XAUTOCLAIM once it has been idle past the visibility window — the
// at-least-once, never-exactly-once contract in spec section 1.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials Redis with the same pool tuning the pack uses for
// shared queue/cache state.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("queue: redis URL is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 10
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: ping redis: %w", err)
	}

	return client, nil
}
