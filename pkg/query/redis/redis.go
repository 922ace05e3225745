// Package redis caches query answers in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/query"
)

const defaultTTL = 10 * time.Minute

// Cache implements query.Cache on top of a Redis client.
type Cache struct {
	client goredis.Cmdable
	ttl    time.Duration
}

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New connects to Redis and checks the connection with a ping.
func New(ctx context.Context, cfg Config) (*Cache, *goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.TTL), client, nil
}

// NewWithClient wraps an existing client. A non-positive ttl defaults to ten
// minutes.
func NewWithClient(client goredis.Cmdable, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, key string) (query.Answer, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return query.Answer{}, false, nil
	}
	if err != nil {
		return query.Answer{}, false, err
	}
	var ans query.Answer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return query.Answer{}, false, fmt.Errorf("decode cached answer: %w", err)
	}
	return ans, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, ans query.Answer) error {
	raw, err := json.Marshal(ans)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}
