package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// setNXer is the slice of *redis.Client the guard needs.
type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisGuard claims event ids with SET NX. Markers expire after TTL, which
// bounds memory but means a redelivery later than TTL is admitted again.
type RedisGuard struct {
	Client    setNXer
	Namespace string
	TTL       time.Duration
}

func NewRedisGuard(client *redis.Client, namespace string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{Client: client, Namespace: namespace, TTL: ttl}
}

func (g *RedisGuard) key(eventID string) string {
	return "guard:" + g.Namespace + ":" + eventID
}

func (g *RedisGuard) ShouldProcess(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	ok, err := g.Client.SetNX(ctx, g.key(eventID), time.Now().UTC().Format(time.RFC3339Nano), g.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis guard %s: %w", g.key(eventID), err)
	}
	return ok, nil
}
