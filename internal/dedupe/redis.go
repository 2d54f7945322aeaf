package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the index with a shared Redis instance so several crawler
// processes can share one dedupe space.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing client. Keys expire after ttl; zero keeps them
// for 24 hours.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "skimmer:seen"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// FirstSeen uses SETNX as the atomic test-and-insert.
func (r *Redis) FirstSeen(ctx context.Context, url string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(url), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (r *Redis) key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return r.prefix + ":" + hex.EncodeToString(sum[:])
}
