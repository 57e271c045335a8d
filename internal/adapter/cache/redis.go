// Package cache invalidates the dashboard's read-through cache when probe
// data changes.
package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// KeyPrefix is the namespace the dashboard uses for cached reads.
const KeyPrefix = "dashboard:"

// Invalidator drops cached dashboard reads from Redis. A nil client turns
// every call into a no-op, so deployments without Redis need no special
// casing.
type Invalidator struct {
	client *redis.Client
}

// NewInvalidator creates an Invalidator over the given client, which may be
// nil.
func NewInvalidator(client *redis.Client) *Invalidator {
	return &Invalidator{client: client}
}

// Invalidate deletes every key under the dashboard namespace.
func (i *Invalidator) Invalidate(ctx domain.Context) error {
	if i.client == nil {
		return nil
	}

	iter := i.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("op=cache.invalidate scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := i.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("op=cache.invalidate del: %w", err)
	}
	return nil
}
