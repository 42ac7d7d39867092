package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/refset/insurance-support-agent/internal/config"
)

// sendGuardTTL outlives any retry or redelivery of the same decision.
const sendGuardTTL = 30 * 24 * time.Hour

func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, time.Second*2)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisSendGuard records sent decisions with SETNX.
type RedisSendGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSendGuard(client *redis.Client) *RedisSendGuard {
	return &RedisSendGuard{client: client, ttl: sendGuardTTL}
}

func (g *RedisSendGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire send guard %s: %w", key, err)
	}
	return ok, nil
}
