package data

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

const dedupeKeyPrefix = "botpanel:event:"

// MemoryDedupe remembers event ids in process memory
type MemoryDedupe struct {
	mu   sync.Mutex
	seen map[string]time.Time // key -> expiry
	now  func() time.Time
}

// NewMemoryDedupe creates an in-memory dedupe store
func NewMemoryDedupe() *MemoryDedupe {
	return &MemoryDedupe{seen: make(map[string]time.Time), now: time.Now}
}

// MarkSeen implements repo.DedupeStore
func (d *MemoryDedupe) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	// Expired entries are swept on write so the map stays bounded
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true, nil
	}
	d.seen[key] = now.Add(ttl)
	return false, nil
}

// RedisDedupe shares seen event ids between processes with SETNX
type RedisDedupe struct {
	client *redis.Client
}

// NewRedisDedupe creates a Redis-backed dedupe store
func NewRedisDedupe(client *redis.Client) *RedisDedupe {
	return &RedisDedupe{client: client}
}

// MarkSeen implements repo.DedupeStore
func (d *RedisDedupe) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := d.client.SetNX(ctx, dedupeKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event seen: %w", err)
	}
	return !created, nil
}

// NewDedupeStore selects the driver: Redis when a URL is configured, memory otherwise.
// The returned close function releases the driver's resources.
func NewDedupeStore(ctx context.Context, redisURL string) (repo.DedupeStore, func() error, error) {
	if redisURL == "" {
		return NewMemoryDedupe(), func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisDedupe(client), client.Close, nil
}
