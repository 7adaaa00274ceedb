// Package cache keeps generated answers in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "bhoomi:answer:"

type AnswerCache struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

func NewAnswerCache(client *goredis.Client, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AnswerCache{client: client, ttl: ttl, prefix: DefaultKeyPrefix}
}

// WithPrefix namespaces the keys, mostly for tests sharing a database.
func (c *AnswerCache) WithPrefix(prefix string) *AnswerCache {
	c.prefix = prefix
	return c
}

// Get returns the cached answer for key. A miss is not an error.
func (c *AnswerCache) Get(ctx context.Context, key string) (string, bool, error) {
	answer, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			slog.DebugContext(ctx, "answer cache miss", "key", key)
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	slog.DebugContext(ctx, "answer cache hit", "key", key, "length", len(answer))
	return answer, true, nil
}

func (c *AnswerCache) Set(ctx context.Context, key, answer string) error {
	if err := c.client.Set(ctx, c.prefix+key, answer, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Clear drops every cached answer.
func (c *AnswerCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			slog.WarnContext(ctx, "failed to delete cache key", "key", iter.Val(), "error", err)
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	slog.InfoContext(ctx, "cleared answer cache", "deleted", deleted)
	return nil
}

// Count reports how many answers are cached.
func (c *AnswerCache) Count(ctx context.Context) (int, error) {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	n := 0
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("cache scan: %w", err)
	}
	return n, nil
}

func (c *AnswerCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
