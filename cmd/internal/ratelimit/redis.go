package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter shared by every server instance.
//
// Each (key, window) pair maps to one counter. INCR and EXPIRE run in one
// MULTI so a counter never outlives its window.
type Redis struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
}

// NewRedis constructs a Redis limiter. prefix namespaces the counters.
func NewRedis(client redis.Cmdable, prefix string, limit int, window time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("ratelimit: nil redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "convoy:send"
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{client: client, prefix: prefix, limit: limit, window: window}, nil
}

// Allow reports whether an event for key at time "now" should be permitted.
func (r *Redis) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	bucket := now.UnixNano() / int64(r.window)
	redisKey := fmt.Sprintf("%s:%s:%d", r.prefix, key, bucket)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, r.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}
	return incr.Val() <= int64(r.limit), nil
}
