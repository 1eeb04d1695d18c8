package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	oidckit "github.com/open-rails/profilekit/oidc"
	"github.com/redis/go-redis/v9"
)

// StateCache stores pending OIDC states in Redis so any replica can serve the callback.
type StateCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStateCache creates a cache under prefix (default "profilekit:oidc:state:") with ttl (default 15 minutes).
func NewStateCache(rdb *redis.Client, prefix string, ttl time.Duration) *StateCache {
	if prefix == "" {
		prefix = "profilekit:oidc:state:"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &StateCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *StateCache) Put(ctx context.Context, state string, data oidckit.StateData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+state, b, c.ttl).Err()
}

func (c *StateCache) Get(ctx context.Context, state string) (oidckit.StateData, bool, error) {
	b, err := c.rdb.Get(ctx, c.prefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return oidckit.StateData{}, false, nil
	}
	if err != nil {
		return oidckit.StateData{}, false, err
	}
	var sd oidckit.StateData
	if err := json.Unmarshal(b, &sd); err != nil {
		return oidckit.StateData{}, false, err
	}
	return sd, true, nil
}

func (c *StateCache) Del(ctx context.Context, state string) error {
	return c.rdb.Del(ctx, c.prefix+state).Err()
}
