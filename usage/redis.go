package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dailyExpiry   = 48 * time.Hour
	monthlyExpiry = 32 * 24 * time.Hour
)

// RedisCounter keeps one INCR counter per caller per day and per month.
type RedisCounter struct {
	client *redis.Client
	limits Limits
	now    func() time.Time
}

func NewRedisCounter(client *redis.Client, limits Limits) *RedisCounter {
	return &RedisCounter{client: client, limits: limits, now: time.Now}
}

func (c *RedisCounter) CheckAndUpdate(ctx context.Context, caller Caller) (Decision, error) {
	now := c.now()
	dailyKey := fmt.Sprintf("usage:daily:%s:%s", dayWindow(now), caller.Key())
	monthlyKey := fmt.Sprintf("usage:monthly:%s:%s", monthWindow(now), caller.Key())

	var daily, monthly *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		daily = pipe.Incr(ctx, dailyKey)
		pipe.Expire(ctx, dailyKey, dailyExpiry)
		monthly = pipe.Incr(ctx, monthlyKey)
		pipe.Expire(ctx, monthlyKey, monthlyExpiry)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("updating usage for %s: %w", caller.Key(), err)
	}
	return decide(daily.Val(), monthly.Val(), c.limits), nil
}
