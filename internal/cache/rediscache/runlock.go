package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RunLock is a coarse single-flight guard for sync triggers: the external
// platform is rate-limited and two crawls over the same account would trample
// each other's checkpoint. SET NX with a TTL so a crashed run self-heals.
type RunLock struct {
	c *redis.Client
}

func NewRunLock(addr string) *RunLock {
	return &RunLock{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (l *RunLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.c.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis runlock acquire")
	}
	return ok, nil
}

func (l *RunLock) Release(ctx context.Context, key string) error {
	if err := l.c.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "redis runlock release")
	}
	return nil
}
