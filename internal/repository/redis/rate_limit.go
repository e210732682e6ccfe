package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	red "github.com/redis/go-redis/v9"
)

const defaultAttemptPrefix = "presence:rate-limit"

// AttemptStore persists request attempts in Redis sorted sets, scored by
// timestamp, for sliding-window rate limiting.
type AttemptStore struct {
	client *red.Client
	prefix string
	ttl    time.Duration
}

// NewAttemptStore constructs an attempt store. The TTL bounds how long idle
// windows survive in Redis and should be at least twice the rate window.
func NewAttemptStore(client *red.Client, prefix string, ttl time.Duration) *AttemptStore {
	if prefix == "" {
		prefix = defaultAttemptPrefix
	}
	return &AttemptStore{client: client, prefix: prefix, ttl: ttl}
}

// RecordAttempt stores the timestamp within the identifier's window and
// refreshes the key TTL.
func (r *AttemptStore) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	key := r.key(identifier)
	member := red.Z{Score: float64(at.UnixNano()), Member: at.UnixNano()}

	if err := r.client.ZAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("redis zadd attempt: %w", err)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return fmt.Errorf("redis expire attempts: %w", err)
		}
	}
	return nil
}

// CountAttempts returns how many attempts fall inside the window ending at
// the reference time.
func (r *AttemptStore) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	min := fmt.Sprintf("%f", float64(reference.Add(-window).UnixNano()))
	max := fmt.Sprintf("%f", float64(reference.UnixNano()))

	count, err := r.client.ZCount(ctx, r.key(identifier), min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount attempts: %w", err)
	}
	return int(count), nil
}

// TrimWindow drops attempts older than the window relative to the reference time.
func (r *AttemptStore) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	threshold := fmt.Sprintf("%f", float64(reference.Add(-window).UnixNano()))
	if err := r.client.ZRemRangeByScore(ctx, r.key(identifier), "-inf", threshold).Err(); err != nil {
		return fmt.Errorf("redis zremrangebyscore attempts: %w", err)
	}
	return nil
}

func (r *AttemptStore) key(identifier string) string {
	return fmt.Sprintf("%s:%s", r.prefix, identifier)
}
