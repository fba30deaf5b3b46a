package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is the single rate-limit policy component. HTTP middleware and the
// auth service both count through it, so attempt accounting is never
// duplicated across layers.
type Limiter struct {
	client *redis.Client
	prefix string
}

// New creates a Limiter that namespaces its keys under prefix.
func New(client *redis.Client, prefix string) *Limiter {
	return &Limiter{client: client, prefix: prefix}
}

func (l *Limiter) key(parts ...string) string {
	key := l.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// Hit increments the counter for key and returns the new count. The window
// TTL is set when the counter is first created, giving a fixed-window count
// that expires on its own.
func (l *Limiter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := l.key(key)

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", k, err)
	}
	if count == 1 {
		l.client.Expire(ctx, k, window)
	}
	return count, nil
}

// Allow counts a hit against key and reports whether it is within limit,
// along with the remaining budget and the time until the window resets.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, retryAfter time.Duration, err error) {
	count, err := l.Hit(ctx, key, window)
	if err != nil {
		return false, 0, 0, err
	}

	if count > int64(limit) {
		ttl, ttlErr := l.client.TTL(ctx, l.key(key)).Result()
		if ttlErr != nil || ttl < 0 {
			ttl = window
		}
		return false, 0, ttl, nil
	}

	return true, limit - int(count), 0, nil
}

// Count returns the current counter value without incrementing it.
func (l *Limiter) Count(ctx context.Context, key string) (int64, error) {
	count, err := l.client.Get(ctx, l.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return count, nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}

// SetCode stores a short-lived verification code under key with the given TTL.
func (l *Limiter) SetCode(ctx context.Context, key, code string, ttl time.Duration) error {
	if err := l.client.Set(ctx, l.key(key), code, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}
	return nil
}

// GetCode fetches a stored verification code. Returns empty string when the
// code is missing or expired.
func (l *Limiter) GetCode(ctx context.Context, key string) (string, error) {
	code, err := l.client.Get(ctx, l.key(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read code: %w", err)
	}
	return code, nil
}

// DeleteCode removes a stored verification code once consumed.
func (l *Limiter) DeleteCode(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete code: %w", err)
	}
	return nil
}
