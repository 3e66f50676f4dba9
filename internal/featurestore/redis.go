// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package featurestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/recsyslab/featurepipe/internal/resilience"
)

// RedisCache is the production CacheTier backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`

	// DialTimeout bounds the initial connectivity probe.
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// NewRedisCache connects to Redis and fails fast when it is unreachable.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Name implements CacheTier.
func (r *RedisCache) Name() string { return "redis" }

// Get implements CacheTier. redis.Nil maps to ErrNotFound; every other
// failure is classified transient so the guard retries it.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("redis get %s: %w", key, err))
	}
	return val, nil
}

// SetWithTTL implements CacheTier.
func (r *RedisCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return resilience.Transient(fmt.Errorf("redis set %s: %w", key, err))
	}
	return nil
}

// Ping checks connectivity, used by the readiness probe.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements CacheTier.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
