// Package redislimiter is a fixed-window limiter shared across replicas through Redis.
package redislimiter

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter counts hits per key in a window-aligned Redis counter.
type Limiter struct {
	rdb     *redis.Client
	limits  map[string]Limit
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

func New(rdb *redis.Client, limits map[string]Limit) *Limiter {
	return &Limiter{rdb: rdb, limits: limits, prefix: "profilekit:rl:", timeout: 250 * time.Millisecond, now: time.Now}
}

func (l *Limiter) AllowNamed(bucket, key string) (bool, error) {
	lim, ok := l.limits[bucket]
	if !ok {
		lim, ok = l.limits["default"]
	}
	if !ok || lim.Limit <= 0 || lim.Window <= 0 {
		return true, nil
	}
	window := l.now().UnixNano() / int64(lim.Window)
	k := l.prefix + key + ":" + strconv.FormatInt(window, 10)

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, lim.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= int64(lim.Limit), nil
}
