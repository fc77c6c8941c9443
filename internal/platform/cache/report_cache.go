// Package cache keeps rendered reports in Redis. Entries of a cycle are
// namespaced by a generation counter; bumping the counter invalidates them
// all at once and the old keys age out through their TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pms:report:"

type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl}
}

// Open connects to the Redis instance at url and checks it responds.
func Open(ctx context.Context, url string, ttl time.Duration) (*ReportCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewReportCache(client, ttl), nil
}

// Load returns the entry for key under the cycle's current generation, along
// with that generation.
func (c *ReportCache) Load(ctx context.Context, cycleID, key string) ([]byte, int64, bool, error) {
	gen, err := c.generation(ctx, cycleID)
	if err != nil {
		return nil, 0, false, err
	}
	payload, err := c.client.Get(ctx, entryKey(cycleID, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return payload, gen, true, nil
}

// Store writes under gen, the generation seen by the Load that missed. If the
// cycle was invalidated since, the entry is never served.
func (c *ReportCache) Store(ctx context.Context, cycleID string, gen int64, key string, payload []byte) error {
	return c.client.Set(ctx, entryKey(cycleID, gen, key), payload, c.ttl).Err()
}

func (c *ReportCache) Invalidate(ctx context.Context, cycleID string) error {
	return c.client.Incr(ctx, generationKey(cycleID)).Err()
}

func (c *ReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ReportCache) Close() error {
	return c.client.Close()
}

func (c *ReportCache) generation(ctx context.Context, cycleID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(cycleID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func generationKey(cycleID string) string {
	return keyPrefix + cycleID + ":gen"
}

func entryKey(cycleID string, gen int64, key string) string {
	return fmt.Sprintf("%s%s:%d:%s", keyPrefix, cycleID, gen, key)
}
