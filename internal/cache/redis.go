// Package cache keeps the Redis page cache of the read side coherent with
// the catalog store.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanCount = 500

type Config struct {
	Addr       string
	Password   string
	DB         int
	KeyPattern string
	Timeout    time.Duration
}

// Invalidator deletes every cached page matching a key pattern.
type Invalidator struct {
	client  *redis.Client
	pattern string
	timeout time.Duration
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Invalidator {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	return NewWithClient(client, cfg.KeyPattern, cfg.Timeout, logger)
}

func NewWithClient(client *redis.Client, pattern string, timeout time.Duration, logger *slog.Logger) *Invalidator {
	return &Invalidator{
		client:  client,
		pattern: pattern,
		timeout: timeout,
		logger:  logger.With("component", "cache"),
	}
}

// PingContext lets the health endpoint check Redis.
func (i *Invalidator) PingContext(ctx context.Context) error {
	if err := i.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Invalidate walks the keyspace with SCAN and unlinks the matching keys in
// batches. It returns how many keys were removed.
func (i *Invalidator) Invalidate(ctx context.Context) (int, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := i.client.Scan(ctx, cursor, i.pattern, scanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("scan %s: %w", i.pattern, err)
		}

		if len(keys) > 0 {
			n, err := i.client.Unlink(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("unlink keys: %w", err)
			}
			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	i.logger.Debug("cache invalidated", "pattern", i.pattern, "keys", removed)
	return removed, nil
}

func (i *Invalidator) Close() error {
	return i.client.Close()
}
