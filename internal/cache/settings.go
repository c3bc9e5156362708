// Package cache keeps short-lived copies of read-mostly rows in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"wholesale-fulfillment/internal/config"
	"wholesale-fulfillment/internal/core"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const settingsKey = "fulfillment:settings:v1"

// NewClient connects to Redis at address. An empty address disables caching
// and returns a nil client.
func NewClient(ctx context.Context, address string) (*redis.Client, error) {
	if address == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: address})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// SettingsCache is a read-through core.SettingsProvider. Redis failures never
// fail the request: the underlying provider is read instead.
type SettingsCache struct {
	next   core.SettingsProvider
	client redis.Cmdable
	ttl    time.Duration
	logger *logrus.Logger
}

// NewSettingsCache wraps next. With a nil client every call goes straight to next.
func NewSettingsCache(next core.SettingsProvider, client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *SettingsCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SettingsCache{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *SettingsCache) enabled() bool {
	return c.client != nil && c.ttl > 0
}

func (c *SettingsCache) Current(ctx context.Context) (core.Settings, error) {
	if !c.enabled() {
		return c.next.Current(ctx)
	}

	val, err := c.client.Get(ctx, settingsKey).Result()
	switch {
	case err == nil:
		var st core.Settings
		jsonErr := json.Unmarshal([]byte(val), &st)
		if jsonErr == nil {
			return st, nil
		}
		config.LogError(c.logger, "cache", "SettingsCache.Current", "decode cached settings", val, jsonErr)
	case errors.Is(err, redis.Nil):
	default:
		config.LogError(c.logger, "cache", "SettingsCache.Current", "read cached settings", settingsKey, err)
	}

	st, err := c.next.Current(ctx)
	if err != nil {
		return core.Settings{}, err
	}
	if raw, err := json.Marshal(st); err == nil {
		if err := c.client.Set(ctx, settingsKey, raw, c.ttl).Err(); err != nil {
			config.LogError(c.logger, "cache", "SettingsCache.Current", "store settings", settingsKey, err)
		}
	}
	return st, nil
}

// Invalidate drops the cached snapshot so the next read goes to the database.
func (c *SettingsCache) Invalidate(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Del(ctx, settingsKey).Err()
}
