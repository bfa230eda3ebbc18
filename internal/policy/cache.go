package policy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const activePoliciesKey = "policy:active"

// Cache keeps the active policy set in Redis so resolution does not hit the
// database on every workflow transition. Writes invalidate the whole key.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// FetchActive loads the cached policy set or populates it using the loader.
// A nil cache or redis failure falls through to the loader.
func (c *Cache) FetchActive(ctx context.Context, loader func(context.Context) ([]Policy, error)) ([]Policy, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, activePoliciesKey).Bytes()
	if err == nil {
		var policies []Policy
		if err := json.Unmarshal(payload, &policies); err == nil {
			return policies, nil
		}
	} else if err != redis.Nil {
		return loader(ctx)
	}
	policies, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(policies)
	if err != nil {
		return policies, nil
	}
	_ = c.client.Set(ctx, activePoliciesKey, raw, c.ttl).Err()
	return policies, nil
}

// Invalidate drops the cached policy set after an administrative change.
func (c *Cache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, activePoliciesKey).Err()
}
