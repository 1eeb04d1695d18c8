package memorystore

import (
	"context"
	"encoding/json"
	"time"

	oidckit "github.com/open-rails/profilekit/oidc"
)

// StateCache stores pending OIDC states in memory with a TTL.
// This is only suitable for single-node deployments or local development.
type StateCache struct {
	kv  *KV
	ttl time.Duration
}

// NewStateCache creates a cache whose entries expire after ttl (default 15 minutes).
func NewStateCache(ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &StateCache{kv: NewKV(), ttl: ttl}
}

func (c *StateCache) Put(ctx context.Context, state string, data oidckit.StateData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, state, b, c.ttl)
}

func (c *StateCache) Get(ctx context.Context, state string) (oidckit.StateData, bool, error) {
	b, ok, err := c.kv.Get(ctx, state)
	if err != nil || !ok {
		return oidckit.StateData{}, false, err
	}
	var sd oidckit.StateData
	if err := json.Unmarshal(b, &sd); err != nil {
		return oidckit.StateData{}, false, err
	}
	return sd, true, nil
}

func (c *StateCache) Del(ctx context.Context, state string) error {
	return c.kv.Del(ctx, state)
}
