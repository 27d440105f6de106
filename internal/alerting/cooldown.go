package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown rate-limits notifications per load cell.
type Cooldown interface {
	// Acquire reports whether a notification for the slot may be sent now
	// and, if so, starts a new cooldown window.
	Acquire(ctx context.Context, deviceID string, slot int) (bool, error)
	// Release ends the slot's window early.
	Release(ctx context.Context, deviceID string, slot int) error
}

// RedisCooldown keeps one expiring key per slot. SET NX makes the check and
// the update a single atomic step, so concurrent evaluators cannot both win.
type RedisCooldown struct {
	redis  *redis.Client
	window time.Duration
}

// NewRedisCooldown creates a cooldown with the given window
func NewRedisCooldown(redisClient *redis.Client, window time.Duration) *RedisCooldown {
	return &RedisCooldown{redis: redisClient, window: window}
}

func cooldownKey(deviceID string, slot int) string {
	return fmt.Sprintf("notify_cooldown:%s:%d", deviceID, slot)
}

// Acquire implements Cooldown
func (c *RedisCooldown) Acquire(ctx context.Context, deviceID string, slot int) (bool, error) {
	if c.window <= 0 {
		return true, nil
	}
	ok, err := c.redis.SetNX(ctx, cooldownKey(deviceID, slot), time.Now().UTC().Format(time.RFC3339Nano), c.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire cooldown: %w", err)
	}
	return ok, nil
}

// Release implements Cooldown
func (c *RedisCooldown) Release(ctx context.Context, deviceID string, slot int) error {
	if err := c.redis.Del(ctx, cooldownKey(deviceID, slot)).Err(); err != nil {
		return fmt.Errorf("failed to release cooldown: %w", err)
	}
	return nil
}
